package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bken/signaling/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "journal", "rooms.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func TestRecordAndHistory(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000).UTC()
	events := []core.RoomEvent{
		{Kind: core.KindCreated, RoomID: "r1", ClientID: "a", Category: "chess", At: base},
		{Kind: core.KindJoined, RoomID: "r1", ClientID: "b", Category: "chess", At: base.Add(time.Second)},
		{Kind: core.KindCreated, RoomID: "r2", ClientID: "c", Category: "go", At: base.Add(2 * time.Second)},
		{Kind: core.KindExpired, RoomID: "r1", Category: "chess", At: base.Add(3 * time.Second)},
	}
	for _, ev := range events {
		if err := st.Record(ctx, ev); err != nil {
			t.Fatalf("record %s: %v", ev.Kind, err)
		}
	}

	all, err := st.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	if all[0].Kind != core.KindCreated || all[3].Kind != core.KindExpired {
		t.Fatalf("expected oldest-first order, got %#v", all)
	}
	if !all[1].At.Equal(base.Add(time.Second)) || all[1].ClientID != "b" {
		t.Fatalf("unexpected row: %#v", all[1])
	}

	latest, err := st.History(ctx, 2)
	if err != nil {
		t.Fatalf("history with limit: %v", err)
	}
	if len(latest) != 2 || latest[0].RoomID != "r2" || latest[1].Kind != core.KindExpired {
		t.Fatalf("expected the two newest events, got %#v", latest)
	}

	r1, err := st.RoomHistory(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("room history: %v", err)
	}
	if len(r1) != 3 {
		t.Fatalf("expected 3 events for r1, got %d", len(r1))
	}
}

func TestRecordValidates(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	if err := st.Record(context.Background(), core.RoomEvent{RoomID: "r1"}); err == nil {
		t.Fatal("expected error for missing kind")
	}
	if err := st.Record(context.Background(), core.RoomEvent{Kind: core.KindCreated}); err == nil {
		t.Fatal("expected error for missing room id")
	}
}

func TestObserveRoomIsFlushedOnClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rooms.db")
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}

	for i := 0; i < 20; i++ {
		st.ObserveRoom(core.RoomEvent{Kind: core.KindJoined, RoomID: "r1", Category: "chess", At: time.Now()})
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Observing after close is a no-op.
	st.ObserveRoom(core.RoomEvent{Kind: core.KindJoined, RoomID: "r1", Category: "chess"})

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rows, err := reopened.History(context.Background(), 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 20 {
		t.Fatalf("expected 20 journaled events, got %d", len(rows))
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open("  ", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHistoryEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	rows, err := st.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", rows)
	}
}
