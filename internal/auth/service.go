package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"astroclub.org/internal/kv"
)

const revokedPrefix = "revoked:"

// StateEvent names an auth state change delivered to listeners.
type StateEvent string

const (
	SignedIn  StateEvent = "signed_in"
	SignedOut StateEvent = "signed_out"
)

// StateChange is delivered to OnAuthStateChange listeners.
type StateChange struct {
	Event    StateEvent
	Identity Identity
	At       time.Time
}

// Session is a verified bearer token together with its identity.
type Session struct {
	Identity  Identity  `json:"user"`
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	// IssuedAt has second precision.
	IssuedAt time.Time `json:"issued_at"`
}

// Service resolves sessions, runs provider sign-in and publishes auth state
// changes.
type Service struct {
	tokens    *Tokens
	revoked   kv.Store
	providers map[string]Provider
	now       func() time.Time

	mu        sync.Mutex
	listeners map[int]func(StateChange)
	next      int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithProvider registers an external sign-in provider under name.
func WithProvider(name string, p Provider) ServiceOption {
	return func(s *Service) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && p != nil {
			s.providers[name] = p
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
			s.tokens.now = fn
		}
	}
}

// NewService wires the token signer and the revocation store.
func NewService(tokens *Tokens, revoked kv.Store, opts ...ServiceOption) *Service {
	s := &Service{
		tokens:    tokens,
		revoked:   revoked,
		providers: make(map[string]Provider),
		now:       time.Now,
		listeners: make(map[int]func(StateChange)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers lists the names of configured sign-in providers.
func (s *Service) Providers() []string {
	out := make([]string, 0, len(s.providers))
	for name := range s.providers {
		out = append(out, name)
	}
	return out
}

// CurrentSession verifies token and reports the identity behind it.
func (s *Service) CurrentSession(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.revoked.Get(ctx, revokedPrefix+claims.ID); err == nil {
		return Session{}, fmt.Errorf("%w: signed out", ErrInvalidToken)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	return Session{
		Identity:  claims.Identity(),
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		IssuedAt:  claims.IssuedAt.Time,
	}, nil
}

// SignInWithProvider returns the provider URL the browser must be redirected to.
func (s *Service) SignInWithProvider(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := s.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	nonce := uuid.NewString()
	state, err := s.tokens.signState(name, nonce)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return p.AuthCodeURL(state, nonce), nil
}

// CompleteSignIn exchanges the provider code, issues a session and emits
// signed_in.
func (s *Service) CompleteSignIn(ctx context.Context, name, code, state string) (Session, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := s.providers[name]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if strings.TrimSpace(code) == "" {
		return Session{}, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	prov, nonce, err := s.tokens.verifyState(state)
	if err != nil {
		return Session{}, err
	}
	if prov != name {
		return Session{}, ErrInvalidState
	}
	ident, err := p.Exchange(ctx, code, nonce)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSession(ident)
}

// IssueSession signs a token for an already verified identity and emits
// signed_in.
func (s *Service) IssueSession(ident Identity) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(ident)
	if err != nil {
		return Session{}, err
	}
	ident.Email = strings.ToLower(strings.TrimSpace(ident.Email))
	s.emit(StateChange{Event: SignedIn, Identity: ident, At: s.now().UTC()})
	return Session{
		Identity:  ident,
		Token:     token,
		ExpiresAt: expiresAt,
		IssuedAt:  expiresAt.Add(-s.tokens.ttl).Truncate(time.Second),
	}, nil
}

// SignOut revokes the token until its natural expiry and emits signed_out.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.revoked.Set(ctx, revokedPrefix+claims.ID, claims.Subject, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.emit(StateChange{Event: SignedOut, Identity: claims.Identity(), At: s.now().UTC()})
	return nil
}

// OnAuthStateChange registers fn for every future state change and returns a
// function that removes it.
func (s *Service) OnAuthStateChange(fn func(StateChange)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) emit(change StateChange) {
	s.mu.Lock()
	fns := make([]func(StateChange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}
