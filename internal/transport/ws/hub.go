package ws

import (
	"fmt"
	"log/slog"
	"time"

	"drafttable/internal/auth"
	"drafttable/internal/domain"
	"drafttable/internal/game"
	"drafttable/internal/netutil"
	"drafttable/internal/observability/metrics"
	"drafttable/internal/store"
	"drafttable/internal/view"
)

// inbound is one decrypted client event awaiting dispatch.
type inbound struct {
	c     *client
	event string
	data  []byte
}

// Hub owns every registry — rooms, devices, live connections — and mutates
// them from a single dispatch goroutine. Events from one connection arrive
// in order; events across connections interleave as dispatched.
type Hub struct {
	auth  *auth.Service
	game  *game.Service
	store *store.Store

	debug              bool
	maxEventsPerSecond int
	maxConnsPerAddr    int

	// Dispatch-owned state. Never touched off the dispatch goroutine.
	credential *domain.AdminCredential
	rooms      map[string]*domain.Room
	devices    map[string]*domain.DeviceIdentity
	clients    map[string]*client // by connection id
	addrConns  map[string]int

	register   chan *client
	unregister chan *client
	events     chan inbound
	tasks      chan func()
	done       chan struct{}
}

type Options struct {
	Auth               *auth.Service
	Game               *game.Service
	Store              *store.Store
	Debug              bool
	MaxEventsPerSecond int
	MaxConnsPerAddr    int
}

func NewHub(opts Options) *Hub {
	h := &Hub{
		auth:               opts.Auth,
		game:               opts.Game,
		store:              opts.Store,
		debug:              opts.Debug,
		maxEventsPerSecond: opts.MaxEventsPerSecond,
		maxConnsPerAddr:    opts.MaxConnsPerAddr,
		rooms:              make(map[string]*domain.Room),
		devices:            make(map[string]*domain.DeviceIdentity),
		clients:            make(map[string]*client),
		addrConns:          make(map[string]int),
		register:           make(chan *client),
		unregister:         make(chan *client),
		events:             make(chan inbound, 256),
		tasks:              make(chan func()),
		done:               make(chan struct{}),
	}
	return h
}

// Restore seeds the hub's registries from a loaded snapshot. Called before
// Run starts.
func (h *Hub) Restore(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	h.credential = snap.Credential
	if snap.Rooms != nil {
		h.rooms = snap.Rooms
	}
	if snap.Devices != nil {
		h.devices = snap.Devices
	}
}

// Run is the dispatch loop. Every registry mutation in the process happens
// here, one event at a time.
func (h *Hub) Run() {
	if h.debug {
		h.seedPhantoms()
	}
	for {
		select {
		case c := <-h.register:
			h.admit(c)
		case c := <-h.unregister:
			h.drop(c)
		case ev := <-h.events:
			h.dispatch(ev)
		case task := <-h.tasks:
			task()
		case <-h.done:
			return
		}
	}
}

// Shutdown stops the loop after a final snapshot save.
func (h *Hub) Shutdown() {
	fin := make(chan struct{})
	h.tasks <- func() {
		h.persist()
		close(fin)
	}
	<-fin
	close(h.done)
}

// SaveState persists the current snapshot, synchronously, from outside the
// dispatch loop. Operator hook.
func (h *Hub) SaveState() error {
	errc := make(chan error, 1)
	h.tasks <- func() { errc <- h.persist() }
	return <-errc
}

// LoadState replaces the in-memory registries with the snapshot on disk.
// Operator hook; live sessions keep their connections but room references
// into deleted rooms are cleared.
func (h *Hub) LoadState() error {
	errc := make(chan error, 1)
	h.tasks <- func() {
		snap, err := h.store.Load()
		if err != nil {
			errc <- err
			return
		}
		if snap == nil {
			snap = domain.NewSnapshot()
		}
		h.credential = snap.Credential
		h.rooms = snap.Rooms
		h.devices = snap.Devices
		for _, c := range h.clients {
			if c.session.RoomID != "" {
				if _, ok := h.rooms[c.session.RoomID]; !ok {
					c.session.RoomID = ""
					c.session.Role = domain.RoleUnassigned
					h.pushSession(c)
				}
			}
		}
		errc <- nil
	}
	return <-errc
}

// VerifyAdminPassword checks a plaintext password against the stored
// credential. Operator hook for the interactive CLI.
func (h *Hub) VerifyAdminPassword(password string) bool {
	ok := make(chan bool, 1)
	h.tasks <- func() { ok <- auth.VerifyPassword(h.credential, password) }
	return <-ok
}

// admit enforces connection admission: the per-address concurrent cap, and
// the loopback-only rule while no admin credential exists. The source
// address was normalized at construction and is never written again.
func (h *Hub) admit(c *client) {
	addr := c.session.SourceAddr

	if h.credential == nil && !netutil.IsLoopback(addr) {
		slog.Info("rejecting pre-setup remote connection", "addr", addr)
		c.enqueue(EvSetupRequired, map[string]any{
			"message": "server setup required; connect from the host machine",
		}, true)
		c.close()
		return
	}
	if h.addrConns[addr] >= h.maxConnsPerAddr {
		slog.Warn("per-address connection cap reached", "addr", addr)
		c.close()
		return
	}
	h.addrConns[addr]++
	h.clients[c.id] = c
	metrics.ActiveConnections.Set(float64(len(h.clients)))
}

// drop releases a connection's registrations. The device identity survives.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.addrConns[c.session.SourceAddr]--
		if h.addrConns[c.session.SourceAddr] <= 0 {
			delete(h.addrConns, c.session.SourceAddr)
		}
		metrics.ActiveConnections.Set(float64(len(h.clients)))
	}
	h.auth.DropChallenge(c.id)
	c.close()
	h.pushAdmin()
}

// persist snapshots the full session state. Called after every mutating
// event; a failure is loud but does not abort the event that caused it.
func (h *Hub) persist() error {
	err := h.store.Save(h.snapshot())
	if err != nil {
		slog.Error("snapshot save failed", "error", err)
	}
	return err
}

func (h *Hub) snapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Schema:     domain.SchemaVersion,
		Credential: h.credential,
		Rooms:      h.rooms,
		Devices:    h.devices,
	}
}

// seedPhantoms registers synthetic devices so one operator can fill a table
// in debug mode.
func (h *Hub) seedPhantoms() {
	now := time.Now().UTC()
	for i := 1; i <= domain.DeckSize; i++ {
		token := fmt.Sprintf("phantom-%02d", i)
		if _, ok := h.devices[token]; !ok {
			h.devices[token] = &domain.DeviceIdentity{
				Token:       token,
				DisplayName: fmt.Sprintf("Phantom %d", i),
				Phantom:     true,
				CreatedAt:   now,
				LastSeen:    now,
			}
		}
	}
}

// Broadcast helpers. Pure fan-out of projections; all state reads happen on
// the dispatch goroutine.

func (h *Hub) pushSession(c *client) {
	c.enqueue(EvSessionState, map[string]any{
		"connectionId": c.session.ConnID,
		"deviceToken":  c.session.DeviceToken,
		"displayName":  c.session.DisplayName,
		"role":         c.session.Role.String(),
		"roomId":       c.session.RoomID,
		"streamLayout": c.session.StreamLayout,
	}, false)
}

// pushRoom sends the room's public projection to every connection in it.
func (h *Hub) pushRoom(roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	projection := view.Public(room, h.debug)
	for _, c := range h.clients {
		if c.session.RoomID == roomID {
			c.enqueue(EvRoomState, projection, false)
		}
	}
}

// pushAdmin sends the aggregated admin projection to every admin session.
func (h *Hub) pushAdmin() {
	var admins []*client
	for _, c := range h.clients {
		if c.session.Role == domain.RoleAdmin {
			admins = append(admins, c)
		}
	}
	if len(admins) == 0 {
		return
	}
	sessions := make([]*domain.ConnectionSession, 0, len(h.clients))
	for _, c := range h.clients {
		sessions = append(sessions, c.session)
	}
	projection := view.Admin(h.rooms, h.devices, sessions, h.debug)
	for _, c := range admins {
		c.enqueue(EvAdminState, projection, false)
	}
}

// roomClients returns the live connections currently joined to a room.
func (h *Hub) roomClients(roomID string) []*client {
	var out []*client
	for _, c := range h.clients {
		if c.session.RoomID == roomID {
			out = append(out, c)
		}
	}
	return out
}
