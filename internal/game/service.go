package game

import (
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"time"

	"drafttable/internal/domain"
	"drafttable/internal/secure"
)

// Service owns every room mutation. It runs exclusively on the dispatch
// goroutine, so rooms need no locking.
type Service struct {
	rng *rand.Rand
	now func() time.Time
}

func NewService() *Service {
	return &Service{rng: newRand(), now: time.Now}
}

func newRand() *rand.Rand {
	var seed [16]byte
	if err := secure.ReadRandom(seed[:]); err != nil {
		return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

// CreateRoom registers a new pending room under an uppercase unique id.
func (s *Service) CreateRoom(rooms map[string]*domain.Room, id string) (*domain.Room, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return nil, domain.ErrRoomNotFound
	}
	if _, exists := rooms[id]; exists {
		return nil, domain.ErrRoomExists
	}
	room := domain.NewRoom(id)
	rooms[id] = room
	return room, nil
}

// DeleteRoom removes a room. A role-locked room cannot be deleted.
func (s *Service) DeleteRoom(rooms map[string]*domain.Room, id string) error {
	room, ok := rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if room.State.RolesLocked {
		return domain.ErrRoomLocked
	}
	delete(rooms, id)
	return nil
}

// Join seats the device in the room. A device keeps its seat across
// reconnects; new devices take the lowest free seat, and devices beyond a
// full table join unseated (spectating).
func (s *Service) Join(room *domain.Room, deviceToken string) (seat int) {
	st := room.State
	if seat, ok := st.Seats[deviceToken]; ok {
		return seat
	}
	if st.RolesLocked {
		return 0
	}
	taken := make(map[int]bool, len(st.Seats))
	for _, n := range st.Seats {
		taken[n] = true
	}
	for n := 1; n <= domain.DeckSize; n++ {
		if !taken[n] {
			st.Seats[deviceToken] = n
			return n
		}
	}
	return 0
}

// SetSingleMode flips the per-room single-device-per-seat setting. Only
// meaningful before roles are locked.
func (s *Service) SetSingleMode(room *domain.Room, enabled bool) error {
	st := room.State
	if st.Status != domain.StatusPending || st.RolesLocked {
		return domain.ErrRoomLocked
	}
	st.Settings.SingleMode = enabled
	return nil
}

// SetRoleLock freezes or unfreezes role/seat changes. Locking a single-mode
// room demands exactly ten uniquely seated players; anything less is a
// validation error surfaced to the admin, not a silent no-op.
func (s *Service) SetRoleLock(room *domain.Room, locked bool) error {
	st := room.State
	if st.Status != domain.StatusPending {
		return domain.ErrDraftActive
	}
	if locked && st.Settings.SingleMode && st.SeatCount() != domain.DeckSize {
		return domain.ErrSeatsIncomplete
	}
	st.RolesLocked = locked
	return nil
}

// StartDraft shuffles the fixed deck over the ten slots and opens play.
func (s *Service) StartDraft(room *domain.Room) error {
	st := room.State
	if !st.RolesLocked {
		return domain.ErrRolesNotLocked
	}
	if st.Status != domain.StatusPending {
		return domain.ErrDraftActive
	}
	deck := domain.Deck()
	s.rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	st.Slots = make(map[int]domain.Card, domain.DeckSize)
	for i, card := range deck {
		st.Slots[i] = card
	}
	st.RevealedSlots = []int{}
	st.Results = make(map[int]domain.SeatResult)
	st.CurrentTurn = 1
	st.TrayUnlocked = false
	st.CardRevealed = false
	now := s.now().UTC()
	st.DraftStarted = &now
	st.Status = domain.StatusInProgress
	return nil
}

// UnlockTray lets the current seat pick. Overlays are told to clear any
// residual card by the caller on success.
func (s *Service) UnlockTray(room *domain.Room) error {
	if room.State.Status != domain.StatusInProgress {
		return domain.ErrDraftNotActive
	}
	room.State.TrayUnlocked = true
	return nil
}

// PickOutcome reports a completed pick for broadcasting: the card itself
// goes only to the picking party.
type PickOutcome struct {
	Seat      int
	Slot      int
	Card      domain.Card
	Completed bool
}

// Pick draws the given slot for the current seat. Rejected rather than
// queued whenever the tray is locked, a card is still displayed, or the
// slot was already drawn.
func (s *Service) Pick(room *domain.Room, slot int) (*PickOutcome, error) {
	st := room.State
	if st.Status != domain.StatusInProgress {
		return nil, domain.ErrDraftNotActive
	}
	if st.CardRevealed {
		return nil, domain.ErrCardDisplayed
	}
	if !st.TrayUnlocked {
		return nil, domain.ErrTrayLocked
	}
	if slot < 0 || slot >= domain.DeckSize {
		return nil, domain.ErrSlotOutOfRange
	}
	if st.Revealed(slot) {
		return nil, domain.ErrSlotRevealed
	}

	card := st.Slots[slot]
	seat := st.CurrentTurn
	st.RevealedSlots = append(st.RevealedSlots, slot)
	st.Results[seat] = domain.SeatResult{Card: card, Slot: slot}
	st.TrayUnlocked = false
	st.CardRevealed = true

	completed := seat == domain.DeckSize
	if completed {
		st.Status = domain.StatusCompleted
	} else {
		st.CurrentTurn++
	}
	return &PickOutcome{Seat: seat, Slot: slot, Card: card, Completed: completed}, nil
}

// ForcePick draws uniformly at random among the unrevealed slots, subject to
// the same guards as a manual pick.
func (s *Service) ForcePick(room *domain.Room) (*PickOutcome, error) {
	st := room.State
	if st.Status != domain.StatusInProgress {
		return nil, domain.ErrDraftNotActive
	}
	if st.CardRevealed {
		return nil, domain.ErrCardDisplayed
	}
	if !st.TrayUnlocked {
		return nil, domain.ErrTrayLocked
	}
	var open []int
	for slot := 0; slot < domain.DeckSize; slot++ {
		if !st.Revealed(slot) {
			open = append(open, slot)
		}
	}
	if len(open) == 0 {
		return nil, domain.ErrSlotRevealed
	}
	return s.Pick(room, open[s.rng.IntN(len(open))])
}

// Memorized clears the displayed-card flag so every display closes. It
// reports whether anything actually changed.
func (s *Service) Memorized(room *domain.Room) bool {
	if !room.State.CardRevealed {
		return false
	}
	room.State.CardRevealed = false
	return true
}

// ResetDraft returns the room to PENDING, preserving the role lock, mode
// settings and seat assignments.
func (s *Service) ResetDraft(room *domain.Room) {
	st := room.State
	st.Status = domain.StatusPending
	st.Slots = make(map[int]domain.Card)
	st.RevealedSlots = []int{}
	st.Results = make(map[int]domain.SeatResult)
	st.CurrentTurn = 1
	st.TrayUnlocked = false
	st.CardRevealed = false
	st.DraftStarted = nil
}
