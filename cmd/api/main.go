package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"astroclub.org/internal/auth"
	"astroclub.org/internal/club"
	"astroclub.org/internal/config"
	"astroclub.org/internal/events"
	"astroclub.org/internal/gallery"
	"astroclub.org/internal/httpapi"
	"astroclub.org/internal/ids"
	"astroclub.org/internal/kv"
	"astroclub.org/internal/migrate"
	"astroclub.org/internal/obs"
	"astroclub.org/internal/phase"
	"astroclub.org/internal/realtime"
	"astroclub.org/internal/storage"
	"astroclub.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = ""
)

const serviceName = "astroclub-api"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		obs.Warn("tracing_disabled", map[string]any{"error": err})
	}

	// Markers and revoked tokens share one key space under distinct prefixes.
	var markers kv.Store
	var memKV *kv.Memory
	if cfg.RedisAddr != "" {
		r, err := kv.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer r.Close()
		markers = r
	} else {
		memKV = kv.NewMemory()
		markers = memKV
	}

	var (
		clubStore    club.Store
		eventStore   events.Store
		galleryStore gallery.Store
		probe        httpapi.ReadyProbe
		db           *pg.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		clubStore, eventStore, galleryStore = db, db, db
		probe = httpapi.ReadyProbe{DB: db.DB(), Schema: migrate.NewManager(db.DB(), migrate.Schema())}
	} else {
		obs.Warn("database_not_configured", map[string]any{"note": "using in-memory stores"})
		clubStore, eventStore, galleryStore = club.NewMemoryStore(), events.NewMemoryStore(), gallery.NewMemoryStore()
	}

	var bucket storage.Bucket
	if cfg.StorageDriver == "s3" {
		bucket, err = storage.NewS3Bucket(ctx, storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			log.Fatalf("s3: %v", err)
		}
	} else {
		bucket = storage.NewMemory(cfg.S3PublicBaseURL)
	}

	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	var authOpts []auth.ServiceOption
	if cfg.OIDCEnabled() {
		p, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCSecret,
			RedirectURL:  cfg.OIDCRedirect,
		})
		if err != nil {
			log.Fatalf("oidc: %v", err)
		}
		authOpts = append(authOpts, auth.WithProvider(cfg.OIDCProvider, p))
	}
	authSvc := auth.NewService(tokens, markers, authOpts...)

	policy := club.DefaultPolicy()
	if cfg.MembershipPolicy != "" {
		policy, err = club.LoadPolicy(cfg.MembershipPolicy)
		if err != nil {
			log.Fatalf("membership policy: %v", err)
		}
	}

	feed := realtime.NewFeed()
	profiles := realtime.NewCache(clubStore.ListProfiles)
	go profiles.Watch(ctx, feed, club.CollectionProfiles)

	clubSvc := club.NewService(clubStore, club.Rules{
		Root:   club.RootIdentity{ID: cfg.RootID, Email: cfg.RootEmail},
		Policy: policy,
	},
		club.WithChangeNotifier(feed.Notify),
		club.WithProfileSource(profiles.Get),
	)
	eventSvc := events.NewService(eventStore, events.WithChangeNotifier(feed.Notify))
	gallerySvc := gallery.NewService(galleryStore, bucket, gallery.WithChangeNotifier(feed.Notify))

	registry := phase.NewRegistry(phase.Config{
		FallDuration:       cfg.FallDuration,
		BlackoutDuration:   cfg.BlackoutDuration,
		AuthResolveTimeout: cfg.AuthResolveTimeout,
		CredentialGrace:    cfg.CredentialGrace,
		MarkerTTL:          cfg.MarkerTTL,
	}, markers, phase.WithTransitionHook(httpapi.PhaseHook(feed)))
	defer registry.Close()
	unsubscribe := authSvc.OnAuthStateChange(registry.HandleAuthChange)
	defer unsubscribe()

	if cfg.DatabaseURL != "" {
		listener := realtime.NewPGListener(realtime.DialPG(cfg.DatabaseURL), feed)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				obs.Error("pg_listener_stopped", map[string]any{"error": err})
			}
		}()
	}
	if cfg.NATSURL != "" {
		nc, err := realtime.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer nc.Close()
		bridge := realtime.NewNATSBridge(nc, feed, realtime.DefaultSubject, ids.New())
		if err := bridge.Start(); err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer bridge.Stop()
	}

	jobs := []realtime.Job{
		realtime.InvalidateJob(feed, []string{
			club.CollectionProfiles, club.CollectionRequests, club.CollectionNotifications,
			events.Collection, gallery.Collection,
		}, profiles.Invalidate),
		{
			Name: "evict_idle_sessions",
			Run: func(context.Context) {
				if n := registry.EvictIdle(cfg.SessionIdleTTL); n > 0 {
					obs.Info("sessions_evicted", map[string]any{"count": n})
				}
			},
		},
	}
	if memKV != nil {
		jobs = append(jobs, realtime.Job{
			Name: "sweep_markers",
			Run:  func(context.Context) { memKV.Sweep() },
		})
	}
	resync, err := realtime.NewResync(cfg.ResyncSchedule, jobs...)
	if err != nil {
		log.Fatalf("resync: %v", err)
	}
	resync.Start()
	defer resync.Stop()

	api := httpapi.New(httpapi.Deps{
		Ready:       probe,
		Version:     version,
		Auth:        authSvc,
		Club:        clubSvc,
		Phases:      registry,
		Events:      eventSvc,
		Gallery:     gallerySvc,
		Feed:        feed,
		FrontendURL: cfg.FrontendURL,
		CORSOrigins: cfg.CORSOrigins,
		RateBurst:   cfg.RateBurst,
		RatePerSec:  cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/feed holds responses open.
		IdleTimeout: 60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	grpcHealth := httpapi.NewGRPCHealth(probe)
	grpcHealth.Register(grpcSrv)
	go grpcHealth.Run(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			obs.Error("grpc_serve_failed", map[string]any{"error": err})
		}
	}()

	obs.Info("server_starting", map[string]any{
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr,
		"database":  cfg.DatabaseURL != "",
		"redis":     cfg.RedisAddr != "",
		"nats":      cfg.NATSURL != "",
		"storage":   cfg.StorageDriver,
		"providers": authSvc.Providers(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("server_stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Event streams stay open until their clients leave, so a timed out
	// shutdown falls back to closing connections.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Warn("http_shutdown", map[string]any{"error": err})
		_ = srv.Close()
	}
	grpcSrv.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		obs.Warn("tracing_shutdown", map[string]any{"error": err})
	}
	obs.Info("server_stopped", nil)
}
