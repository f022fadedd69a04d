package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bken/signaling/internal/config"
	"bken/signaling/internal/core"
	"bken/signaling/internal/store"
)

// cliJournal creates a journal seeded with the given events and returns a
// config pointing at it.
func cliJournal(t *testing.T, events ...core.RoomEvent) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.db")
	st, err := store.Open(path, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	for _, ev := range events {
		if err := st.Record(context.Background(), ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg := config.Default()
	cfg.Journal.Path = path
	return cfg
}

func TestRunCLIUnknownFallsThrough(t *testing.T) {
	var out bytes.Buffer
	for _, args := range [][]string{nil, {"serve"}} {
		handled, err := RunCLI(args, config.Default(), &out)
		if handled || err != nil {
			t.Fatalf("RunCLI(%v) = %v, %v; want false, nil", args, handled, err)
		}
	}
}

func TestRunCLIVersion(t *testing.T) {
	var out bytes.Buffer
	handled, err := RunCLI([]string{"version"}, config.Default(), &out)
	if !handled || err != nil {
		t.Fatalf("version: handled=%v err=%v", handled, err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Fatalf("expected version in output, got %q", out.String())
	}
}

func TestRunCLIConfig(t *testing.T) {
	var out bytes.Buffer
	if _, err := RunCLI([]string{"config"}, config.Default(), &out); err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out.String(), `"MaxRooms": 1000`) {
		t.Fatalf("expected effective config dump, got %q", out.String())
	}
}

func TestRunCLIHistory(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	cfg := cliJournal(t,
		core.RoomEvent{Kind: core.KindCreated, RoomID: "r1", ClientID: "a", Category: "chess", At: at},
		core.RoomEvent{Kind: core.KindExpired, RoomID: "r1", Category: "chess", At: at.Add(time.Hour)},
	)

	var out bytes.Buffer
	if _, err := RunCLI([]string{"history"}, cfg, &out); err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "created") || !strings.Contains(lines[0], "client=a") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "expired") || !strings.Contains(lines[1], "client=-") {
		t.Fatalf("unexpected second line %q", lines[1])
	}

	out.Reset()
	if _, err := RunCLI([]string{"history", "1"}, cfg, &out); err != nil {
		t.Fatalf("history 1: %v", err)
	}
	if strings.Count(out.String(), "\n") != 1 {
		t.Fatalf("expected a single line, got %q", out.String())
	}
}

func TestRunCLIHistoryErrors(t *testing.T) {
	var out bytes.Buffer
	if _, err := RunCLI([]string{"history"}, config.Default(), &out); err == nil {
		t.Fatal("expected error without journal path")
	}

	cfg := cliJournal(t)
	_, err := RunCLI([]string{"history", "many"}, cfg, &out)
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}

	out.Reset()
	if _, err := RunCLI([]string{"history"}, cfg, &out); err != nil {
		t.Fatalf("history on empty journal: %v", err)
	}
	if !strings.Contains(out.String(), "No room events") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
