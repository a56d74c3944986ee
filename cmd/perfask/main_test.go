package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://127.0.0.1:8000" {
		t.Fatalf("baseURL = %q", cfg.baseURL)
	}
	if len(cfg.texts) != len(defaultQueries) {
		t.Fatalf("texts = %d, want %d", len(cfg.texts), len(defaultQueries))
	}
	if cfg.turnTimeout != 30*time.Second {
		t.Fatalf("turnTimeout = %s", cfg.turnTimeout)
	}
}

func TestParseFlagsTexts(t *testing.T) {
	cfg, err := parseFlags([]string{"-texts", " a | |b ", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if strings.Join(cfg.texts, ",") != "a,b" {
		t.Fatalf("texts = %v, want [a b]", cfg.texts)
	}
	if cfg.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %s, want 1s floor", cfg.turnTimeout)
	}

	if _, err := parseFlags([]string{"-texts", " | "}); err == nil {
		t.Fatalf("expected error for empty texts")
	}
	if _, err := parseFlags([]string{"-turns", "0"}); err == nil {
		t.Fatalf("expected error for zero turns")
	}
}

func TestWSURLFor(t *testing.T) {
	got, err := wsURLFor("https://recall.example.com/base/")
	if err != nil {
		t.Fatalf("wsURLFor() error = %v", err)
	}
	if got != "wss://recall.example.com/base/ws/ask-ai" {
		t.Fatalf("wsURLFor() = %q", got)
	}
	if _, err := wsURLFor("ftp://host"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestSummarize(t *testing.T) {
	out := summarize([]turnResult{
		{latency: 30 * time.Millisecond},
		{latency: 10 * time.Millisecond},
		{latency: 20 * time.Millisecond, failed: true},
	})
	for _, want := range []string{"asks=3", "failed=1", "p50=20ms", "max=30ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary %q missing %q", out, want)
		}
	}
}
