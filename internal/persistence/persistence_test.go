package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/marnikitta/livecoding/internal/wire"
)

func TestSaveAndLoadRoomRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := "a"
	snap := Snapshot{
		Events: []wire.Operation{
			{Type: wire.OpInsert, Gid: wire.GlobalID{Counter: 0, SiteID: 0}, Char: &c},
		},
		Created: created,
	}

	if err := store.SaveRoom("myroom", snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadRoom("myroom")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Events) != 1 || loaded.Events[0].Type != wire.OpInsert {
		t.Fatalf("unexpected events: %+v", loaded.Events)
	}
	if !loaded.Created.Equal(created) {
		t.Fatalf("expected created %v, got %v", created, loaded.Created)
	}
}

func TestSaveRoomWritesNewThenRenames(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.SaveRoom("r1", Snapshot{Created: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file after save (no leftover temp files), got %d", len(entries))
	}
	if entries[0].Name() != "r1.gz" {
		t.Fatalf("expected r1.gz, got %s", entries[0].Name())
	}
}

func TestLoadMissingRoomFails(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if _, err := store.LoadRoom("ghost"); err == nil {
		t.Fatalf("expected error loading nonexistent room")
	}
}

func TestListRoomIDs(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.SaveRoom("alpha", Snapshot{Created: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveRoom("beta", Snapshot{Created: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	ids, err := store.ListRoomIDs()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 room ids, got %d: %v", len(ids), ids)
	}
}

func TestSaveRoomWithRetrySucceeds(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := store.SaveRoomWithRetry(ctx, "retried", Snapshot{Created: time.Now()}); err != nil {
		t.Fatalf("save with retry: %v", err)
	}
	if _, err := store.LoadRoom("retried"); err != nil {
		t.Fatalf("load after retry save: %v", err)
	}
}
