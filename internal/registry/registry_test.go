package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/marnikitta/livecoding/internal/apperr"
	"github.com/marnikitta/livecoding/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		HeartbitInterval:      time.Second,
		DocumentLimit:         1000,
		LogBytesThreshold:     1 << 20,
		LogOpsThreshold:       10000,
		RoomIdleTTL:           time.Hour,
		RoomMaxAge:            24 * time.Hour,
		BackpressureQueueSize: 16,
		MaxSitesPerRoom:       20,
	}
}

func TestCreateReturnsUniqueLookupableName(t *testing.T) {
	reg := New(testConfig(), nil)
	name1 := reg.Create()
	name2 := reg.Create()

	if name1 == name2 {
		t.Fatalf("expected unique room names, got two %q", name1)
	}
	if len(name1) != roomNameLength {
		t.Fatalf("expected room name of length %d, got %d (%q)", roomNameLength, len(name1), name1)
	}

	if _, err := reg.Get(name1); err != nil {
		t.Fatalf("expected to find room %s: %v", name1, err)
	}
}

func TestGetUnknownRoomIsNotFound(t *testing.T) {
	reg := New(testConfig(), nil)
	_, err := reg.Get("nonexistent")
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) || appErr.Kind != apperr.RoomNotFound {
		t.Fatalf("expected RoomNotFound, got %v", err)
	}
}

func TestCreateWithGreetingSeedsRoom(t *testing.T) {
	cfg := testConfig()
	cfg.Greeting = "welcome!"
	reg := New(cfg, nil)

	name := reg.Create()
	room, err := reg.Get(name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	view := room.BootstrapView()
	if len(view) != len("welcome!") {
		t.Fatalf("expected greeting seeded as %d ops, got %d", len("welcome!"), len(view))
	}
}

func TestRoomCountReflectsLiveRooms(t *testing.T) {
	reg := New(testConfig(), nil)
	if reg.RoomCount() != 0 {
		t.Fatalf("expected zero rooms initially")
	}
	reg.Create()
	reg.Create()
	if reg.RoomCount() != 2 {
		t.Fatalf("expected 2 rooms, got %d", reg.RoomCount())
	}
}
