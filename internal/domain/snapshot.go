package domain

// SchemaVersion is the version written into every new snapshot. Older
// snapshots are upgraded in place on load and immediately re-persisted.
const SchemaVersion = 3

// AdminCredential is the singleton admin secret: a random salt and the slow
// KDF hash of the password. The plaintext password is never stored.
type AdminCredential struct {
	Salt []byte `json:"salt"`
	Hash []byte `json:"hash"`
	// KDF cost parameters are stored alongside the hash so verification
	// keeps using the original cost after a policy change.
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"`
	Threads uint8  `json:"p"`
	KeyLen  uint32 `json:"k"`
}

// Snapshot is the full persisted session state.
type Snapshot struct {
	Schema     int                        `json:"schema"`
	Credential *AdminCredential           `json:"credential,omitempty"`
	Rooms      map[string]*Room           `json:"rooms"`
	Devices    map[string]*DeviceIdentity `json:"devices"`
}

// NewSnapshot returns an empty current-schema snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Schema:  SchemaVersion,
		Rooms:   make(map[string]*Room),
		Devices: make(map[string]*DeviceIdentity),
	}
}

// Upgrade walks a loaded snapshot up to the current schema, filling fields
// introduced after it was written with defaults. It reports whether any
// upgrade step ran, so the caller knows to re-persist.
func (s *Snapshot) Upgrade() bool {
	upgraded := false
	if s.Schema < 2 {
		// v2 introduced the device registry.
		if s.Devices == nil {
			s.Devices = make(map[string]*DeviceIdentity)
		}
		s.Schema = 2
		upgraded = true
	}
	if s.Schema < 3 {
		// v3 introduced per-room settings and seat assignments.
		for _, room := range s.Rooms {
			if room.State == nil {
				room.State = NewGameState()
				continue
			}
			if room.State.Seats == nil {
				room.State.Seats = make(map[string]int)
			}
			if room.State.Results == nil {
				room.State.Results = make(map[int]SeatResult)
			}
			if room.State.Slots == nil {
				room.State.Slots = make(map[int]Card)
			}
			if room.State.RevealedSlots == nil {
				room.State.RevealedSlots = []int{}
			}
			if room.State.CurrentTurn == 0 {
				room.State.CurrentTurn = 1
			}
		}
		s.Schema = 3
		upgraded = true
	}
	if s.Rooms == nil {
		s.Rooms = make(map[string]*Room)
	}
	if s.Devices == nil {
		s.Devices = make(map[string]*DeviceIdentity)
	}
	return upgraded
}
