// Package view computes per-audience projections of the game state. Nothing
// here mutates anything: it is a read-transform between the state machine
// and the wire.
package view

import (
	"sort"
	"time"

	"drafttable/internal/domain"
)

// MaskedSlot replaces the slot-to-role mapping in public projections.
const MaskedSlot = "***"

// GameView is the wire shape of one room's state for a given audience.
type GameView struct {
	RoomID        string                    `json:"roomId"`
	Status        string                    `json:"status"`
	Slots         map[int]string            `json:"slots"`
	RevealedSlots []int                     `json:"revealedSlots"`
	CurrentTurn   int                       `json:"currentTurn"`
	Results       map[int]domain.SeatResult `json:"results,omitempty"`
	TrayUnlocked  bool                      `json:"isTrayUnlocked"`
	CardRevealed  bool                      `json:"isCardRevealed"`
	RolesLocked   bool                      `json:"areRolesLocked"`
	DraftStarted  *time.Time                `json:"draftStartTime"`
	SingleMode    bool                      `json:"singleMode"`
	SeatCount     int                       `json:"seatCount"`
}

// Public renders what any client in the room may see: the full state with
// the slot mapping replaced by an opaque placeholder. The debug flag
// disables masking and is never default-on.
func Public(room *domain.Room, debug bool) GameView {
	if debug {
		return Debug(room)
	}
	st := room.State
	v := baseView(room)
	v.Slots = make(map[int]string, len(st.Slots))
	for slot := range st.Slots {
		v.Slots[slot] = MaskedSlot
	}
	// Results leak cards; public audiences only learn which seats drew.
	v.Results = nil
	return v
}

// Debug renders the internal state verbatim, used only for testing and
// live-event demonstration.
func Debug(room *domain.Room) GameView {
	st := room.State
	v := baseView(room)
	v.Slots = make(map[int]string, len(st.Slots))
	for slot, card := range st.Slots {
		v.Slots[slot] = string(card)
	}
	v.Results = st.Results
	return v
}

func baseView(room *domain.Room) GameView {
	st := room.State
	return GameView{
		RoomID:        room.ID,
		Status:        st.Status.String(),
		RevealedSlots: append([]int{}, st.RevealedSlots...),
		CurrentTurn:   st.CurrentTurn,
		TrayUnlocked:  st.TrayUnlocked,
		CardRevealed:  st.CardRevealed,
		RolesLocked:   st.RolesLocked,
		DraftStarted:  st.DraftStarted,
		SingleMode:    st.Settings.SingleMode,
		SeatCount:     st.SeatCount(),
	}
}

// DeviceView is one entry of the admin registry listing.
type DeviceView struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName,omitempty"`
	Phantom     bool   `json:"phantom,omitempty"`
	Connected   bool   `json:"connected"`
}

// SessionView is one live connection in the admin listing.
type SessionView struct {
	ConnID       string `json:"connectionId"`
	DeviceToken  string `json:"deviceToken"`
	DisplayName  string `json:"displayName"`
	SourceAddr   string `json:"sourceAddress"`
	Role         string `json:"role"`
	RoomID       string `json:"roomId,omitempty"`
	StreamLayout string `json:"streamLayout,omitempty"`
}

// AdminView aggregates every room's public projection plus the full device
// and connection registries, phantoms included.
type AdminView struct {
	Rooms    []GameView    `json:"rooms"`
	Devices  []DeviceView  `json:"devices"`
	Sessions []SessionView `json:"sessions"`
}

// Admin builds the administrative projection. connected reports which device
// tokens currently have a live connection.
func Admin(rooms map[string]*domain.Room, devices map[string]*domain.DeviceIdentity,
	sessions []*domain.ConnectionSession, debug bool) AdminView {

	out := AdminView{
		Rooms:    make([]GameView, 0, len(rooms)),
		Devices:  make([]DeviceView, 0, len(devices)),
		Sessions: make([]SessionView, 0, len(sessions)),
	}

	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out.Rooms = append(out.Rooms, Public(rooms[id], debug))
	}

	connected := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		connected[sess.DeviceToken] = true
		out.Sessions = append(out.Sessions, SessionView{
			ConnID:       sess.ConnID,
			DeviceToken:  sess.DeviceToken,
			DisplayName:  sess.DisplayName,
			SourceAddr:   sess.SourceAddr,
			Role:         sess.Role.String(),
			RoomID:       sess.RoomID,
			StreamLayout: sess.StreamLayout,
		})
	}

	tokens := make([]string, 0, len(devices))
	for token := range devices {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		dev := devices[token]
		out.Devices = append(out.Devices, DeviceView{
			Token:       dev.Token,
			DisplayName: dev.DisplayName,
			Phantom:     dev.Phantom,
			Connected:   connected[dev.Token],
		})
	}
	return out
}
