package httpapi

import (
	"testing"
	"time"
)

func TestIsLoopbackAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8880", true},
		{"localhost:8880", true},
		{"[::1]:8880", true},
		{"0.0.0.0:8880", false},
		{":8880", false},
		{"10.0.0.5:80", false},
		{"example.com:80", false},
		{"no-port", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.addr, func(t *testing.T) {
			if got := isLoopbackAddr(tt.addr); got != tt.want {
				t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	if got.Listen != "127.0.0.1:8880" {
		t.Fatalf("Listen = %q, want 127.0.0.1:8880", got.Listen)
	}
	if got.ReadTimeout != 10*time.Second || got.WriteTimeout != 30*time.Second || got.IdleTimeout != 60*time.Second {
		t.Fatalf("timeouts = %v/%v/%v, want 10s/30s/60s", got.ReadTimeout, got.WriteTimeout, got.IdleTimeout)
	}

	kept := Config{Listen: "0.0.0.0:9000", ReadTimeout: time.Second}.withDefaults()
	if kept.Listen != "0.0.0.0:9000" || kept.ReadTimeout != time.Second {
		t.Fatalf("explicit values overridden: %+v", kept)
	}
}

func TestNeedsRestart(t *testing.T) {
	base := Config{}.withDefaults()

	if needsRestart(base, base) {
		t.Fatalf("needsRestart(same, same) = true, want false")
	}
	moved := base
	moved.Listen = "127.0.0.1:9999"
	if !needsRestart(base, moved) {
		t.Fatalf("needsRestart ignored a listen change")
	}
	retoken := base
	retoken.APIToken = "new"
	if !needsRestart(base, retoken) {
		t.Fatalf("needsRestart ignored a token change")
	}
	pp := base
	pp.PprofEnabled = true
	if !needsRestart(base, pp) {
		t.Fatalf("needsRestart ignored a pprof toggle")
	}
}
