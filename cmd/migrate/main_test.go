package main

import (
	"bytes"
	"strings"
	"testing"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseOptions_DSNFallback(t *testing.T) {
	opts, err := parseOptions(nil, env(map[string]string{envDSN: " postgres://localhost/checkout "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.direction != "up" || opts.dsn != "postgres://localhost/checkout" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseOptions_FlagWins(t *testing.T) {
	opts, err := parseOptions([]string{"-dsn", "postgres://flag", "-direction", "DOWN"}, env(map[string]string{envDSN: "postgres://env"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.dsn != "postgres://flag" || opts.direction != "down" || opts.steps != 1 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseOptions_Errors(t *testing.T) {
	if _, err := parseOptions(nil, env(nil)); err == nil || !strings.Contains(err.Error(), envDSN) {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
	if _, err := parseOptions([]string{"-direction", "sideways", "-dsn", "x"}, env(nil)); err == nil {
		t.Fatal("expected unsupported direction error")
	}
}

func TestRun_OpenFailure(t *testing.T) {
	var out bytes.Buffer
	err := run(t.Context(), options{direction: "status", dsn: "postgres://127.0.0.1:1/none?connect_timeout=1"}, &out)
	if err == nil {
		t.Fatal("expected open failure")
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be printed on failure, got %q", out.String())
	}
}
