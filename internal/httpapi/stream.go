package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"astroclub.org/internal/phase"
	"astroclub.org/internal/realtime"
)

// PhaseCollection carries phase transitions on the feed; the row id is the
// browser session id.
const PhaseCollection = "phase"

const keepAliveInterval = 25 * time.Second

// Stream serves the change feed as Server-Sent Events. Events carry only the
// collection, action and row id; clients refetch through the authenticated
// endpoints. Phase transitions are delivered only to the session named in
// the session query parameter.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	q := r.URL.Query()
	collections := splitCollections(q.Get("collections"))
	session := strings.TrimSpace(q.Get("session"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.feed.Subscribe(ctx, collections...)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case change, ok := <-ch:
			if !ok {
				return
			}
			if !visible(change, session) {
				continue
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + change.Collection + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// PhaseHook delivers phase transitions to local feed subscribers. Sessions
// live on one instance, so transitions are not relayed.
func PhaseHook(feed *realtime.Feed) func(phase.Transition) {
	return func(tr phase.Transition) {
		feed.Deliver(realtime.Change{
			Collection: PhaseCollection,
			Action:     string(tr.To),
			RowID:      tr.SessionID,
			At:         tr.At,
		})
	}
}

func visible(c realtime.Change, session string) bool {
	if c.Collection != PhaseCollection {
		return true
	}
	return session != "" && c.RowID == session
}

func splitCollections(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
