package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"drafttable/internal/domain"
)

func newTestService() *Service {
	return &Service{
		rng: rand.New(rand.NewPCG(1, 2)),
		now: func() time.Time { return time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC) },
	}
}

func lockedRoom(t *testing.T, svc *Service) *domain.Room {
	t.Helper()
	rooms := make(map[string]*domain.Room)
	room, err := svc.CreateRoom(rooms, "finals")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < domain.DeckSize; i++ {
		svc.Join(room, fmt.Sprintf("device-%d", i))
	}
	if err := svc.SetRoleLock(room, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	return room
}

func TestCreateRoomUppercaseUnique(t *testing.T) {
	svc := newTestService()
	rooms := make(map[string]*domain.Room)
	room, err := svc.CreateRoom(rooms, "finals")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID != "FINALS" {
		t.Fatalf("room id = %q, want FINALS", room.ID)
	}
	if _, err := svc.CreateRoom(rooms, "Finals"); !errors.Is(err, domain.ErrRoomExists) {
		t.Fatalf("duplicate: got %v, want ErrRoomExists", err)
	}
}

func TestDeleteRoomBlockedWhileLocked(t *testing.T) {
	svc := newTestService()
	rooms := make(map[string]*domain.Room)
	room, _ := svc.CreateRoom(rooms, "A1")
	if err := svc.SetRoleLock(room, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := svc.DeleteRoom(rooms, "A1"); !errors.Is(err, domain.ErrRoomLocked) {
		t.Fatalf("delete locked: got %v, want ErrRoomLocked", err)
	}
	if err := svc.SetRoleLock(room, false); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := svc.DeleteRoom(rooms, "A1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteRoom(rooms, "A1"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("delete twice: got %v, want ErrRoomNotFound", err)
	}
}

func TestSingleModeLockRequiresFullTable(t *testing.T) {
	svc := newTestService()
	rooms := make(map[string]*domain.Room)
	room, _ := svc.CreateRoom(rooms, "B2")
	if err := svc.SetSingleMode(room, true); err != nil {
		t.Fatalf("single mode: %v", err)
	}
	for i := 0; i < 9; i++ {
		svc.Join(room, fmt.Sprintf("device-%d", i))
	}
	if err := svc.SetRoleLock(room, true); !errors.Is(err, domain.ErrSeatsIncomplete) {
		t.Fatalf("lock with 9 seats: got %v, want ErrSeatsIncomplete", err)
	}
	if room.State.RolesLocked {
		t.Fatal("lock flag set despite rejection")
	}
	svc.Join(room, "device-9")
	if err := svc.SetRoleLock(room, true); err != nil {
		t.Fatalf("lock with full table: %v", err)
	}
}

func TestStartDraftDealsExactDeck(t *testing.T) {
	svc := newTestService()
	room := lockedRoom(t, svc)
	if err := svc.StartDraft(room); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := room.State
	if st.Status != domain.StatusInProgress {
		t.Fatalf("status = %v, want IN_PROGRESS", st.Status)
	}
	if st.DraftStarted == nil {
		t.Fatal("draft start time not recorded")
	}

	counts := make(map[domain.Card]int)
	seen := make(map[int]bool)
	for slot, card := range st.Slots {
		if slot < 0 || slot >= domain.DeckSize || seen[slot] {
			t.Fatalf("bad slot index %d", slot)
		}
		seen[slot] = true
		counts[card]++
	}
	want := map[domain.Card]int{
		domain.CardCitizen: 6,
		domain.CardSheriff: 1,
		domain.CardMafia:   2,
		domain.CardDon:     1,
	}
	for card, n := range want {
		if counts[card] != n {
			t.Fatalf("deck has %d %s, want %d", counts[card], card, n)
		}
	}
	if len(st.Slots) != domain.DeckSize {
		t.Fatalf("dealt %d slots, want %d", len(st.Slots), domain.DeckSize)
	}
}

func TestStartDraftGuards(t *testing.T) {
	svc := newTestService()
	rooms := make(map[string]*domain.Room)
	room, _ := svc.CreateRoom(rooms, "C3")
	if err := svc.StartDraft(room); !errors.Is(err, domain.ErrRolesNotLocked) {
		t.Fatalf("unlocked start: got %v, want ErrRolesNotLocked", err)
	}
	room = lockedRoom(t, svc)
	if err := svc.StartDraft(room); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.StartDraft(room); !errors.Is(err, domain.ErrDraftActive) {
		t.Fatalf("double start: got %v, want ErrDraftActive", err)
	}
}

func TestFullDraftSequence(t *testing.T) {
	svc := newTestService()
	room := lockedRoom(t, svc)
	if err := svc.StartDraft(room); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := room.State

	for turn := 1; turn <= domain.DeckSize; turn++ {
		if err := svc.UnlockTray(room); err != nil {
			t.Fatalf("unlock turn %d: %v", turn, err)
		}
		out, err := svc.ForcePick(room)
		if err != nil {
			t.Fatalf("pick turn %d: %v", turn, err)
		}
		if out.Seat != turn {
			t.Fatalf("pick attributed to seat %d, want %d", out.Seat, turn)
		}
		if len(st.RevealedSlots) != turn {
			t.Fatalf("revealed %d slots after turn %d", len(st.RevealedSlots), turn)
		}
		if turn < domain.DeckSize && st.CurrentTurn != turn+1 {
			t.Fatalf("current turn %d after pick %d", st.CurrentTurn, turn)
		}
		if !svc.Memorized(room) {
			t.Fatalf("memorized no-op at turn %d", turn)
		}
	}

	if st.Status != domain.StatusCompleted {
		t.Fatalf("status = %v after 10 picks, want COMPLETED", st.Status)
	}

	// No duplicate reveals.
	seen := make(map[int]bool)
	for _, slot := range st.RevealedSlots {
		if seen[slot] {
			t.Fatalf("slot %d revealed twice", slot)
		}
		seen[slot] = true
	}

	// Every seat's recorded card matches the slot it drew.
	for seat, res := range st.Results {
		if st.Slots[res.Slot] != res.Card {
			t.Fatalf("seat %d result %v does not match slot %d card %v",
				seat, res.Card, res.Slot, st.Slots[res.Slot])
		}
	}
}

func TestPickRejections(t *testing.T) {
	svc := newTestService()
	room := lockedRoom(t, svc)
	if err := svc.StartDraft(room); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Tray still locked.
	if _, err := svc.Pick(room, 3); !errors.Is(err, domain.ErrTrayLocked) {
		t.Fatalf("locked tray: got %v, want ErrTrayLocked", err)
	}
	if len(room.State.RevealedSlots) != 0 {
		t.Fatal("rejected pick mutated state")
	}

	if err := svc.UnlockTray(room); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := svc.Pick(room, 42); !errors.Is(err, domain.ErrSlotOutOfRange) {
		t.Fatalf("out of range: got %v, want ErrSlotOutOfRange", err)
	}
	out, err := svc.Pick(room, 3)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if out.Card != room.State.Slots[3] {
		t.Fatalf("outcome card %v, want %v", out.Card, room.State.Slots[3])
	}

	// A card is displayed: both manual and forced picks are refused.
	if err := svc.UnlockTray(room); err != nil {
		t.Fatalf("re-unlock: %v", err)
	}
	if _, err := svc.Pick(room, 4); !errors.Is(err, domain.ErrCardDisplayed) {
		t.Fatalf("displayed card: got %v, want ErrCardDisplayed", err)
	}
	if _, err := svc.ForcePick(room); !errors.Is(err, domain.ErrCardDisplayed) {
		t.Fatalf("forced with displayed card: got %v, want ErrCardDisplayed", err)
	}
	svc.Memorized(room)

	// Already-revealed slot.
	if _, err := svc.Pick(room, 3); !errors.Is(err, domain.ErrSlotRevealed) {
		t.Fatalf("re-pick: got %v, want ErrSlotRevealed", err)
	}
}

func TestResetPreservesLockAndSettings(t *testing.T) {
	svc := newTestService()
	room := lockedRoom(t, svc)
	room.State.Settings.SingleMode = false
	if err := svc.StartDraft(room); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.UnlockTray(room); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := svc.ForcePick(room); err != nil {
		t.Fatalf("pick: %v", err)
	}

	seats := len(room.State.Seats)
	svc.ResetDraft(room)
	st := room.State
	if st.Status != domain.StatusPending {
		t.Fatalf("status = %v, want PENDING", st.Status)
	}
	if !st.RolesLocked {
		t.Fatal("reset cleared the role lock")
	}
	if len(st.Seats) != seats {
		t.Fatal("reset dropped seat assignments")
	}
	if len(st.RevealedSlots) != 0 || len(st.Results) != 0 || len(st.Slots) != 0 {
		t.Fatal("reset left draft residue")
	}
	if st.DraftStarted != nil {
		t.Fatal("reset kept the draft start time")
	}

	// A reset room can run a fresh draft without relocking.
	if err := svc.StartDraft(room); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestJoinSeating(t *testing.T) {
	svc := newTestService()
	rooms := make(map[string]*domain.Room)
	room, _ := svc.CreateRoom(rooms, "D4")

	if seat := svc.Join(room, "device-a"); seat != 1 {
		t.Fatalf("first join seat = %d, want 1", seat)
	}
	// Rejoining keeps the seat.
	if seat := svc.Join(room, "device-a"); seat != 1 {
		t.Fatalf("rejoin seat = %d, want 1", seat)
	}
	for i := 2; i <= domain.DeckSize; i++ {
		if seat := svc.Join(room, fmt.Sprintf("device-%d", i)); seat != i {
			t.Fatalf("join %d seat = %d", i, seat)
		}
	}
	// Eleventh device spectates.
	if seat := svc.Join(room, "device-extra"); seat != 0 {
		t.Fatalf("overflow join seat = %d, want 0", seat)
	}
}
