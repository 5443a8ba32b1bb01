package server

import "testing"

func TestMountPoint(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"/":         "",
		"api":       "/api",
		"/api":      "/api",
		"/api/":     "/api",
		" api ":     "/api",
		"//hub/v1/": "/hub/v1",
	}
	for in, want := range cases {
		if got := mountPoint(in); got != want {
			t.Fatalf("mountPoint(%q)=%q want %q", in, got, want)
		}
	}
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{"api", "db-1", "worker_2", "svc.v2"} {
		if !validKey(k) {
			t.Fatalf("expected valid key %q", k)
		}
	}
	for _, k := range []string{"", "..", "a..b", ".hidden", "a/b", `a\b`, "hello*", "한글"} {
		if validKey(k) {
			t.Fatalf("expected invalid key %q", k)
		}
	}
}
