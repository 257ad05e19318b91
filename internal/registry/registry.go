// Package registry is the directory of live rooms: creation, lookup, and
// periodic eviction of idle or expired rooms (spec.md §4.4).
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/marnikitta/livecoding/internal/apperr"
	"github.com/marnikitta/livecoding/internal/config"
	"github.com/marnikitta/livecoding/internal/crdt"
	"github.com/marnikitta/livecoding/internal/hub"
	"github.com/marnikitta/livecoding/internal/persistence"
	"github.com/marnikitta/livecoding/internal/roomlog"
	"github.com/marnikitta/livecoding/internal/wire"
	"github.com/marnikitta/livecoding/internal/worker"
)

const roomNameLength = 14

// Registry holds name -> Room. Its own lock is never held while a Room's
// mailbox is invoked (spec.md §5): lookups copy out the *hub.Room pointer
// and release the lock before touching the room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*hub.Room

	cfg      hub.Config
	store    *persistence.Store
	greeting string
	idleTTL  time.Duration
	maxAge   time.Duration

	sweepPool   *worker.Pool
	sweepCancel context.CancelFunc
}

// New constructs an empty Registry from cfg, ready to persist rooms to
// store.
func New(cfg *config.Config, store *persistence.Store) *Registry {
	return &Registry{
		rooms: make(map[string]*hub.Room),
		cfg: hub.Config{
			HeartbitInterval:      cfg.HeartbitInterval,
			BackpressureQueueSize: cfg.BackpressureQueueSize,
			LogThreshold: roomlog.Threshold{
				MaxBytes: cfg.LogBytesThreshold,
				MaxOps:   cfg.LogOpsThreshold,
			},
			MaxSites: cfg.MaxSitesPerRoom,
		},
		store:    store,
		greeting: cfg.Greeting,
		idleTTL:  cfg.RoomIdleTTL,
		maxAge:   cfg.RoomMaxAge,
	}
}

func (reg *Registry) compactHook(roomName string, ops []crdt.Operation) error {
	if reg.store == nil {
		return nil
	}
	snap := persistence.Snapshot{
		Events:  wire.FromInternalBatch(ops),
		Created: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return reg.store.SaveRoomWithRetry(ctx, roomName, snap)
}

// Create generates a fresh room name, seeds it with the configured
// greeting (if any), registers it, and returns the name.
func (reg *Registry) Create() string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var name string
	for {
		name = generatePhoneticName(roomNameLength)
		if _, exists := reg.rooms[name]; !exists {
			break
		}
	}

	initial := roomlog.New()
	if reg.greeting != "" {
		if err := initial.Replace(hub.SeedOperations(reg.greeting)); err != nil {
			log.Printf("registry: failed to seed greeting for room %s: %v", name, err)
		}
	}

	reg.rooms[name] = hub.New(name, reg.cfg, initial, reg.compactHook)
	return name
}

// Get returns the named room, or apperr.NotFound.
func (reg *Registry) Get(name string) (*hub.Room, error) {
	reg.mu.RLock()
	room, ok := reg.rooms[name]
	reg.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound(nil)
	}
	return room, nil
}

// StartSweeper launches the background eviction loop, driven by a small
// worker.Pool so the sweep itself never blocks the caller.
func (reg *Registry) StartSweeper(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	reg.sweepCancel = cancel
	reg.sweepPool = worker.NewPool(1)
	go worker.RunEvery(ctx, reg.sweepPool, interval, func(ctx context.Context) error {
		reg.sweep()
		return nil
	})
}

// StopSweeper halts the eviction loop and its worker pool.
func (reg *Registry) StopSweeper() {
	if reg.sweepCancel != nil {
		reg.sweepCancel()
	}
	if reg.sweepPool != nil {
		reg.sweepPool.Shutdown()
	}
}

// sweep evicts rooms idle past idleTTL AND older than maxAge, per
// spec.md §4.4's AND condition.
func (reg *Registry) sweep() {
	reg.mu.RLock()
	candidates := make(map[string]*hub.Room, len(reg.rooms))
	for name, room := range reg.rooms {
		candidates[name] = room
	}
	reg.mu.RUnlock()

	for name, room := range candidates {
		if room.IdleSince() > reg.idleTTL && room.Age() > reg.maxAge {
			log.Printf("registry: evicting room %s (idle %s, age %s)", name, room.IdleSince(), room.Age())
			room.EvictNotice()
			reg.mu.Lock()
			delete(reg.rooms, name)
			reg.mu.Unlock()
		}
	}
}

// FlushAll persists every live room's current log, used on graceful
// shutdown and by the periodic flush loop.
func (reg *Registry) FlushAll(ctx context.Context) {
	if reg.store == nil {
		return
	}
	reg.mu.RLock()
	snapshot := make(map[string]*hub.Room, len(reg.rooms))
	for name, room := range reg.rooms {
		snapshot[name] = room
	}
	reg.mu.RUnlock()

	for name, room := range snapshot {
		ops := room.LogSnapshotForPersist()
		snap := persistence.Snapshot{Events: wire.FromInternalBatch(ops), Created: time.Now()}
		if err := reg.store.SaveRoomWithRetry(ctx, name, snap); err != nil {
			log.Printf("registry: failed to flush room %s: %v", name, err)
		}
	}
}

// RestoreAll loads every persisted room into the Registry, used at
// startup so a restart doesn't lose rooms the previous process flushed
// (spec.md §4.5's "reconstruct the Registry").
func (reg *Registry) RestoreAll() error {
	if reg.store == nil {
		return nil
	}
	ids, err := reg.store.ListRoomIDs()
	if err != nil {
		return err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, name := range ids {
		snap, err := reg.store.LoadRoom(name)
		if err != nil {
			log.Printf("registry: failed to restore room %s: %v", name, err)
			continue
		}
		ops, err := wire.ToInternalBatch(snap.Events)
		if err != nil {
			log.Printf("registry: failed to decode restored room %s: %v", name, err)
			continue
		}
		l := roomlog.New()
		if err := l.Replace(ops); err != nil {
			log.Printf("registry: failed to rebuild log for room %s: %v", name, err)
			continue
		}
		reg.rooms[name] = hub.New(name, reg.cfg, l, reg.compactHook)
	}
	return nil
}

// RoomCount reports how many rooms are currently live, for status
// reporting (intro.js's "activeRooms").
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// ActiveUsers sums SessionCount across every live room, for intro.js's
// "activeUsers" counter.
func (reg *Registry) ActiveUsers() int {
	reg.mu.RLock()
	rooms := make([]*hub.Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	total := 0
	for _, room := range rooms {
		total += room.SessionCount()
	}
	return total
}
