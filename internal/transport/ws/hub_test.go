package ws

import (
	"encoding/hex"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"drafttable/internal/auth"
	"drafttable/internal/domain"
	"drafttable/internal/game"
	"drafttable/internal/observability/metrics"
	"drafttable/internal/store"
	"drafttable/internal/view"
)

// Dispatch counters carry a curried service label, so the vecs must be
// registered before the first dispatch.
func TestMain(m *testing.M) {
	metrics.MustRegister("ws-test")
	os.Exit(m.Run())
}

// newTestHub builds a hub with a throwaway store. Handlers are exercised
// synchronously on the test goroutine; Run is never started.
func newTestHub(t *testing.T) *Hub {
	t.Helper()
	st, err := store.New(t.TempDir(), 2, 1)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return NewHub(Options{
		Auth:               auth.NewService(),
		Game:               game.NewService(),
		Store:              st,
		MaxEventsPerSecond: 20,
		MaxConnsPerAddr:    5,
	})
}

// connect admits a connection without a real websocket; the read and write
// loops never run, so the nil conn is never touched.
func connect(h *Hub, addr string) *client {
	c := newClient(h, nil, addr)
	h.admit(c)
	return c
}

func send(h *Hub, c *client, event, payload string) {
	h.dispatch(inbound{c: c, event: event, data: []byte(payload)})
}

// drain empties a client's send queue so later assertions see only fresh
// events.
func drain(c *client) []outbound {
	var out []outbound
	for {
		select {
		case o := <-c.send:
			out = append(out, o)
		default:
			return out
		}
	}
}

func findEvent(outs []outbound, event string) (outbound, bool) {
	for _, o := range outs {
		if o.event == event {
			return o, true
		}
	}
	return outbound{}, false
}

func setupAdmin(t *testing.T, h *Hub, c *client) {
	t.Helper()
	send(h, c, EvSetupAdmin, `{"password":"correct horse"}`)
	outs := drain(c)
	res, ok := findEvent(outs, EvSetupResult)
	if !ok {
		t.Fatal("no SETUP_RESULT")
	}
	if res.payload.(map[string]any)["success"] != true {
		t.Fatalf("setup declined: %v", res.payload)
	}
	if c.session.Role != domain.RoleAdmin {
		t.Fatalf("role after setup = %v", c.session.Role)
	}
}

func identify(t *testing.T, h *Hub, c *client) string {
	t.Helper()
	send(h, c, EvIdentify, `{}`)
	outs := drain(c)
	tok, ok := findEvent(outs, EvDeviceToken)
	if !ok {
		t.Fatal("no DEVICE_TOKEN")
	}
	return tok.payload.(map[string]any)["deviceToken"].(string)
}

func TestPreSetupRemoteRejected(t *testing.T) {
	h := newTestHub(t)

	remote := newClient(h, nil, "192.0.2.9:40000")
	h.admit(remote)
	if !remote.isClosed() {
		t.Fatal("pre-setup remote connection admitted")
	}
	if _, ok := findEvent(drain(remote), EvSetupRequired); !ok {
		t.Fatal("no SETUP_REQUIRED before close")
	}

	local := connect(h, "127.0.0.1:40001")
	if _, ok := h.clients[local.id]; !ok {
		t.Fatal("loopback connection rejected")
	}
}

func TestPerAddressConnectionCap(t *testing.T) {
	h := newTestHub(t)
	h.maxConnsPerAddr = 2
	h.credential = &domain.AdminCredential{}

	a := connect(h, "192.0.2.30:1")
	b := connect(h, "192.0.2.30:2")
	c := connect(h, "192.0.2.30:3")
	if a.isClosed() || b.isClosed() {
		t.Fatal("connections under the cap were dropped")
	}
	if !c.isClosed() {
		t.Fatal("third connection from the same address admitted")
	}
	if _, ok := h.clients[c.id]; ok {
		t.Fatal("capped connection still registered")
	}
}

func TestSetupPromotesToAdmin(t *testing.T) {
	h := newTestHub(t)
	c := connect(h, "127.0.0.1:1")
	setupAdmin(t, h, c)

	// A second setup attempt is refused.
	other := connect(h, "127.0.0.1:2")
	send(h, other, EvSetupAdmin, `{"password":"hostile takeover"}`)
	res, ok := findEvent(drain(other), EvSetupResult)
	if !ok {
		t.Fatal("no SETUP_RESULT")
	}
	if res.payload.(map[string]any)["success"] != false {
		t.Fatal("second setup accepted")
	}
	if other.session.Role == domain.RoleAdmin {
		t.Fatal("second caller promoted")
	}
}

func TestIdentifyMintsDeviceToken(t *testing.T) {
	h := newTestHub(t)
	c := connect(h, "127.0.0.1:1")

	tok := identify(t, h, c)
	if len(tok) != domain.DeviceTokenBytes*2 {
		t.Fatalf("token length = %d", len(tok))
	}
	if _, err := hex.DecodeString(tok); err != nil {
		t.Fatalf("token not hex: %v", err)
	}
	if _, ok := h.devices[tok]; !ok {
		t.Fatal("device not registered")
	}
	if c.session.DeviceToken != tok {
		t.Fatal("session not bound to token")
	}

	// The same token presented again resumes the same identity.
	c2 := connect(h, "127.0.0.1:2")
	send(h, c2, EvIdentify, `{"deviceToken":"`+tok+`"}`)
	if _, ok := findEvent(drain(c2), EvDeviceToken); ok {
		t.Fatal("known token re-minted")
	}
	if c2.session.DeviceToken != tok {
		t.Fatal("identity not resumed")
	}
}

func TestRoomFlowAndPickDistribution(t *testing.T) {
	h := newTestHub(t)
	admin := connect(h, "127.0.0.1:1")
	setupAdmin(t, h, admin)
	identify(t, h, admin)

	send(h, admin, EvCreateRoom, `{"roomId":"main"}`)
	room, ok := h.rooms["MAIN"]
	if !ok {
		t.Fatal("room code not uppercased")
	}

	player := connect(h, "192.0.2.50:1")
	identify(t, h, player)
	send(h, player, EvJoinRoom, `{"name":"Ann","roomCode":"main"}`)
	if player.session.Role != domain.RolePlayer {
		t.Fatalf("join role = %v", player.session.Role)
	}
	if room.State.SeatOf(player.session.DeviceToken) != 1 {
		t.Fatal("player not seated")
	}

	// Room creation is an admin verb; a player's attempt changes nothing.
	send(h, player, EvCreateRoom, `{"roomId":"rogue"}`)
	if len(h.rooms) != 1 {
		t.Fatal("player created a room")
	}

	send(h, admin, EvJoinRoom, `{"roomCode":"MAIN"}`)
	if admin.session.Role != domain.RoleAdmin {
		t.Fatal("admin demoted by join")
	}

	send(h, admin, EvToggleRoleLock, `{"roomId":"MAIN","state":true}`)
	if !room.State.RolesLocked {
		t.Fatal("roles not locked")
	}
	send(h, admin, EvStartDraft, ``)
	if room.State.Status != domain.StatusInProgress {
		t.Fatalf("status = %v", room.State.Status)
	}

	// Picks bounce off a locked tray.
	drain(player)
	send(h, player, EvPickCard, `{"slotIndex":3}`)
	if len(room.State.RevealedSlots) != 0 {
		t.Fatal("pick landed through a locked tray")
	}

	send(h, admin, EvUnlockTray, ``)
	if _, ok := findEvent(drain(player), EvOverlayClear); !ok {
		t.Fatal("no OVERLAY_CLEAR on unlock")
	}

	drain(admin)
	send(h, player, EvPickCard, `{"slotIndex":3}`)
	playerOuts := drain(player)
	adminOuts := drain(admin)

	res, ok := findEvent(playerOuts, EvPickResult)
	if !ok {
		t.Fatal("picker got no PICK_RESULT")
	}
	if card, _ := res.payload.(map[string]any)["card"].(domain.Card); card == "" {
		t.Fatal("PICK_RESULT missing card")
	}
	if _, ok := findEvent(adminOuts, EvPickResult); ok {
		t.Fatal("card leaked to a non-picking connection")
	}
	if _, ok := findEvent(playerOuts, EvPickAnnounce); !ok {
		t.Fatal("no public PICK_ANNOUNCE")
	}
	if _, ok := findEvent(adminOuts, EvPickAnnounce); !ok {
		t.Fatal("announce not broadcast to the room")
	}

	// The public room projection never carries the slot mapping.
	state, ok := findEvent(playerOuts, EvRoomState)
	if !ok {
		t.Fatal("no ROOM_STATE after pick")
	}
	gv := state.payload.(view.GameView)
	if gv.Slots[3] != view.MaskedSlot {
		t.Fatalf("slot leaked: %q", gv.Slots[3])
	}
	if gv.Results != nil {
		t.Fatal("results leaked to public projection")
	}

	send(h, player, EvMemorizedRole, ``)
	if room.State.CardRevealed {
		t.Fatal("card still displayed after memorize")
	}
	if _, ok := findEvent(drain(admin), EvCardClosed); !ok {
		t.Fatal("no CARD_CLOSED broadcast")
	}
}

func TestDeleteRoomEvictsSessions(t *testing.T) {
	h := newTestHub(t)
	admin := connect(h, "127.0.0.1:1")
	setupAdmin(t, h, admin)

	send(h, admin, EvCreateRoom, `{"roomId":"night"}`)
	player := connect(h, "192.0.2.60:1")
	identify(t, h, player)
	send(h, player, EvJoinRoom, `{"name":"Bo","roomCode":"night"}`)

	send(h, admin, EvDeleteRoom, `{"roomId":"night"}`)
	if len(h.rooms) != 0 {
		t.Fatal("room survived deletion")
	}
	if player.session.RoomID != "" {
		t.Fatal("evicted session still references the room")
	}
	if player.session.Role != domain.RoleUnassigned {
		t.Fatalf("evicted role = %v", player.session.Role)
	}
}

// The dispatch goroutine can close a connection while its reader is still
// enqueueing (admission rejection racing a KEY_EXCHANGE reply). The send
// channel is never closed, so the race must not panic.
func TestEnqueueConcurrentWithClose(t *testing.T) {
	h := newTestHub(t)
	c := newClient(h, nil, "192.0.2.70:40000")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.enqueue(EvKeyExchange, nil, true)
		}
	}()
	go func() {
		defer wg.Done()
		c.close()
	}()
	wg.Wait()

	if !c.isClosed() {
		t.Fatal("client not closed")
	}
	c.close() // idempotent
}

func TestDispatchCountsUnauthorized(t *testing.T) {
	h := newTestHub(t)
	c := connect(h, "127.0.0.1:7")

	unauthorized := metrics.EventsDispatchedTotal.WithLabelValues(EvCreateRoom, "unauthorized")
	before := testutil.ToFloat64(unauthorized)

	send(h, c, EvCreateRoom, `{"roomId":"x"}`)

	if got := testutil.ToFloat64(unauthorized); got != before+1 {
		t.Fatalf("unauthorized dispatches = %v, want %v", got, before+1)
	}
	if len(h.rooms) != 0 {
		t.Fatal("unauthorized create mutated state")
	}
}

func TestRateWindowCeiling(t *testing.T) {
	h := newTestHub(t)
	h.maxEventsPerSecond = 3
	c := newClient(h, nil, "127.0.0.1:1")

	for i := 0; i < 3; i++ {
		if c.overRateLimit() {
			t.Fatalf("frame %d over limit", i)
		}
	}
	if !c.overRateLimit() {
		t.Fatal("fourth frame inside a one-second window allowed")
	}
}
