package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/infodancer/relayd/internal/config"
)

func TestUsersCommand(t *testing.T) {
	cfg := config.RegistryConfig{
		Backend: config.RegistryFile,
		Path:    filepath.Join(t.TempDir(), "approved.json"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	steps := []struct {
		action string
		args   []string
		want   string
	}{
		{"list", nil, ""},
		{"approve", []string{"42"}, "approved 42\n"},
		{"approve", []string{"+42"}, "42 already approved\n"},
		{"approve", []string{"7"}, "approved 7\n"},
		{"list", nil, "42\n7\n"},
		{"remove", []string{"42"}, "removed 42\n"},
		{"remove", []string{"42"}, "42 was not approved\n"},
		{"list", nil, "7\n"},
	}

	for _, s := range steps {
		var out bytes.Buffer
		if err := users(ctx, cfg, s.action, s.args, &out, logger); err != nil {
			t.Fatalf("users(%s %v) error = %v", s.action, s.args, err)
		}
		if out.String() != s.want {
			t.Errorf("users(%s %v) output = %q, want %q", s.action, s.args, out.String(), s.want)
		}
	}
}

func TestUsersUsage(t *testing.T) {
	cfg := config.RegistryConfig{Backend: config.RegistryFile, Path: filepath.Join(t.TempDir(), "r.json")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		action string
		args   []string
	}{
		{"", nil},
		{"purge", nil},
		{"approve", nil},
		{"remove", []string{"1", "2"}},
		{"approve", []string{"  "}},
	}
	for _, tt := range tests {
		err := users(context.Background(), cfg, tt.action, tt.args, io.Discard, logger)
		if !errors.Is(err, errUsersUsage) {
			t.Errorf("users(%q, %v) error = %v, want usage error", tt.action, tt.args, err)
		}
	}
}

func TestUsageStatesOfflineOnly(t *testing.T) {
	for name, text := range map[string]string{
		"usage":       usageText,
		"users usage": errUsersUsage.Error(),
	} {
		if !strings.Contains(text, "offline") || !strings.Contains(text, "stop relayd serve") {
			t.Errorf("%s does not say users is offline only: %q", name, text)
		}
	}
}

func TestUsersKeepsUnreadableRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approved.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.RegistryConfig{Backend: config.RegistryFile, Path: path}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := users(context.Background(), cfg, "approve", []string{"1"}, io.Discard, logger); err == nil {
		t.Fatal("approve over an unreadable registry should fail")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Errorf("registry file was rewritten: %q", data)
	}

	var out bytes.Buffer
	if err := users(context.Background(), cfg, "list", nil, &out, logger); err != nil {
		t.Errorf("list error = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("list output = %q, want empty", out.String())
	}
}
