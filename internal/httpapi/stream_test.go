package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"astroclub.org/internal/events"
	"astroclub.org/internal/realtime"
)

// readChange returns the next data line of the SSE stream.
func readChange(t *testing.T, r *bufio.Reader) realtime.Change {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var c realtime.Change
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			t.Fatalf("decode change: %v", err)
		}
		return c
	}
}

func openStream(t *testing.T, api *apiClient, query string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/feed?"+query, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	r := bufio.NewReader(resp.Body)
	// The stream opens with a comment once the subscription exists.
	if line, err := r.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("unexpected first line %q: %v", line, err)
	}
	return r
}

func TestStreamDeliversCollectionChanges(t *testing.T) {
	api := newTestAPI(t)
	r := openStream(t, api, "collections=events")

	resp := api.post("/v1/events", events.Draft{Title: "Meteor Night", Status: events.StatusUpcoming},
		bearerHeaders(api.token(rootIdent), ""))
	expectStatus(t, resp, http.StatusCreated)
	created := decode[events.Event](t, resp)

	c := readChange(t, r)
	if c.Collection != events.Collection || c.Action != "insert" || c.RowID != created.ID {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestStreamScopesPhaseTransitionsToSession(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(memberIdent)
	r := openStream(t, api, "collections=phase&session=tab-sse")

	// Another session's transition must not reach this stream.
	other := bearerHeaders(token, "tab-other")
	expectStatus(t, api.post("/v1/session", nil, other), http.StatusOK)
	expectStatus(t, api.post("/v1/session/login", nil, other), http.StatusOK)

	mine := bearerHeaders(token, "tab-sse")
	expectStatus(t, api.post("/v1/session", nil, mine), http.StatusOK)
	expectStatus(t, api.post("/v1/session/login", nil, mine), http.StatusOK)

	c := readChange(t, r)
	if c.Collection != PhaseCollection || c.RowID != "tab-sse" || c.Action != "falling" {
		t.Fatalf("unexpected change: %+v", c)
	}
}
