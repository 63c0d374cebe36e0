package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/profiles":                  "/v1/profiles",
		"/v1/profiles/01HX":             "/v1/profiles/:id",
		"/v1/profiles/01HX/rank":        "/v1/profiles/:id/rank",
		"/v1/requests/admin":            "/v1/requests/admin",
		"/v1/requests/01HX/approve":     "/v1/requests/:id/approve",
		"/v1/notifications/01HX/read":   "/v1/notifications/:id/read",
		"/v1/events/01HX/close?x=1":     "/v1/events/:id/close",
		"/v1/auth/google/login":         "/v1/auth/:provider/login",
		"/v1/session/login":             "/v1/session/login",
		"/v1/profiles/01HX/rank/extra1": "/v1/profiles/01HX/rank/extra1",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
