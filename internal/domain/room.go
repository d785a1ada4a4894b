package domain

import "time"

// Status is the draft lifecycle state of a room.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return "PENDING"
	}
}

// SeatResult records which slot a seat drew and the card behind it.
type SeatResult struct {
	Card Card `json:"card"`
	Slot int  `json:"slot"`
}

// Settings are the per-room options that survive a draft reset.
type Settings struct {
	// SingleMode binds each seat to exactly one device; locking roles then
	// requires a full table of ten uniquely seated players.
	SingleMode bool `json:"singleMode"`
}

// GameState is the complete draft state of one room. It is mutated only by
// the dispatch goroutine, so it carries no locking of its own.
type GameState struct {
	Status        Status             `json:"status"`
	Slots         map[int]Card       `json:"slots"`
	RevealedSlots []int              `json:"revealedSlots"`
	CurrentTurn   int                `json:"currentTurn"`
	Results       map[int]SeatResult `json:"results"`
	TrayUnlocked  bool               `json:"isTrayUnlocked"`
	CardRevealed  bool               `json:"isCardRevealed"`
	RolesLocked   bool               `json:"areRolesLocked"`
	DraftStarted  *time.Time         `json:"draftStartTime"`
	Settings      Settings           `json:"settings"`
	// Seats maps device token -> seat number (1..10).
	Seats map[string]int `json:"seatAssignments"`
}

// NewGameState returns an empty pending state.
func NewGameState() *GameState {
	return &GameState{
		Status:        StatusPending,
		Slots:         make(map[int]Card),
		RevealedSlots: []int{},
		CurrentTurn:   1,
		Results:       make(map[int]SeatResult),
		Seats:         make(map[string]int),
	}
}

// SeatOf returns the seat assigned to the device, or 0 if unseated.
func (g *GameState) SeatOf(deviceToken string) int {
	return g.Seats[deviceToken]
}

// SeatCount returns the number of uniquely seated devices. Seats is keyed by
// device token, so distinct seats need checking separately.
func (g *GameState) SeatCount() int {
	taken := make(map[int]bool, len(g.Seats))
	for _, seat := range g.Seats {
		taken[seat] = true
	}
	return len(taken)
}

// Revealed reports whether the slot has already been drawn this draft.
func (g *GameState) Revealed(slot int) bool {
	for _, s := range g.RevealedSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// Room is one draft table, keyed by an uppercase unique id.
type Room struct {
	ID    string     `json:"roomId"`
	State *GameState `json:"state"`
}

func NewRoom(id string) *Room {
	return &Room{ID: id, State: NewGameState()}
}
