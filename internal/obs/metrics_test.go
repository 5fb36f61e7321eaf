package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                           "/",
		"/metrics":                   "/metrics",
		"/v1/runs/01J9ZX3B8QK":       "/v1/runs/:id",
		"/v1/runs/01J9ZX3B8QK/extra": "/v1/runs/01J9ZX3B8QK/extra",
		"/v1/push":                   "/v1/push",
		"/v1/list-records?limit=5":   "/v1/list-records",
		"/v1/pending-assignments":    "/v1/pending-assignments",
		"/v1/test-connection?deep=1": "/v1/test-connection",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
