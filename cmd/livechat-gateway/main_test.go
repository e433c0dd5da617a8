// ABOUTME: Tests for CLI argument parsing and the colour log handler
// ABOUTME: The subcommands themselves are thin wrappers over tested packages

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/2389/livechat-gateway/internal/config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantValues map[string]string
		wantSet    []string
		wantPos    []string
		wantErr    bool
	}{
		{
			name:       "separate value",
			args:       []string{"--name", "Ada", "extra"},
			wantValues: map[string]string{"name": "Ada"},
			wantPos:    []string{"extra"},
		},
		{
			name:       "inline value",
			args:       []string{"--name=Ada Lovelace", "-tenant=acme"},
			wantValues: map[string]string{"name": "Ada Lovelace", "tenant": "acme"},
		},
		{
			name:       "bool flag",
			args:       []string{"--available", "--name", "Ada"},
			wantValues: map[string]string{"name": "Ada"},
			wantSet:    []string{"available"},
		},
		{name: "missing value", args: []string{"--name"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: true},
		{name: "bool with value", args: []string{"--available=yes"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFlags(tt.args, []string{"name", "tenant"}, []string{"available"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseFlags() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			for k, v := range tt.wantValues {
				if got := f.get(k, ""); got != v {
					t.Errorf("value %q = %q, want %q", k, got, v)
				}
			}
			for _, k := range tt.wantSet {
				if !f.set[k] {
					t.Errorf("flag %q not set", k)
				}
			}
			if strings.Join(f.positional, ",") != strings.Join(tt.wantPos, ",") {
				t.Errorf("positional = %v, want %v", f.positional, tt.wantPos)
			}
		})
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newLogHandler(config.LoggingConfig{Level: "warn"}, &buf))

	logger.Info("hidden")
	logger.With("component", "router").WithGroup("conn").Warn("slow client", "id", "c1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}
	for _, want := range []string{"WRN ", "slow client", "component=router", "conn.id=c1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("0123456789abcdef", 10); got != "0123456..." {
		t.Errorf("truncate() = %q", got)
	}
}
