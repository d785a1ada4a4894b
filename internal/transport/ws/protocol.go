package ws

import (
	"encoding/json"
)

// Client -> server events.
const (
	EvKeyExchange      = "KEY_EXCHANGE"
	EvIdentify         = "IDENTIFY"
	EvSetupAdmin       = "SETUP_ADMIN"
	EvRequestChallenge = "REQUEST_LOGIN_CHALLENGE"
	EvAdminLogin       = "ADMIN_LOGIN"
	EvChangePassword   = "CHANGE_PASSWORD"
	EvCreateRoom       = "CREATE_ROOM"
	EvDeleteRoom       = "DELETE_ROOM"
	EvJoinRoom         = "JOIN_ROOM"
	EvAssignRole       = "ASSIGN_ROLE"
	EvToggleRoleLock   = "TOGGLE_ROLE_LOCK"
	EvSetSingleMode    = "SET_SINGLE_MODE"
	EvStartDraft       = "START_DRAFT"
	EvUnlockTray       = "UNLOCK_TRAY"
	EvPickCard         = "PICK_CARD"
	EvForcePick        = "FORCE_PICK"
	EvMemorizedRole    = "MEMORIZED_ROLE"
	EvResetDraft       = "RESET_DRAFT"
	EvFillPhantoms     = "FILL_PHANTOM_SEATS"
)

// Server -> client events.
const (
	EvKeyExchangeFailed = "KEY_EXCHANGE_FAILED"
	EvSetupRequired     = "SETUP_REQUIRED"
	EvRateLimited       = "RATE_LIMITED"
	EvDeviceToken       = "DEVICE_TOKEN"
	EvSetupResult       = "SETUP_RESULT"
	EvLoginChallenge    = "LOGIN_CHALLENGE"
	EvLoginResult       = "LOGIN_RESULT"
	EvPasswordResult    = "CHANGE_PASSWORD_RESULT"
	EvValidationError   = "VALIDATION_ERROR"
	EvSessionState      = "SESSION_STATE"
	EvRoomState         = "ROOM_STATE"
	EvAdminState        = "ADMIN_STATE"
	EvOverlayClear      = "OVERLAY_CLEAR"
	EvPickResult        = "PICK_RESULT"
	EvPickAnnounce      = "PICK_ANNOUNCE"
	EvCardClosed        = "CARD_CLOSED"
)

// envelope is the outer wire shape. Once a channel key is established the
// payload field carries the encrypted `iv:ciphertext:hmac` string; before
// that (key exchange only) it carries plaintext JSON.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Typed inbound payloads. Every event decodes into its own struct or the
// frame is rejected; there is no duck-typed validation.

type keyExchangePayload struct {
	ClientPublicKey []byte `json:"clientPublicKey"`
}

type identifyPayload struct {
	DeviceToken string `json:"deviceToken"`
	DisplayName string `json:"displayName,omitempty"`
	ResumeToken string `json:"resumeToken,omitempty"`
}

type setupAdminPayload struct {
	Password string `json:"password"`
}

type adminLoginPayload struct {
	HMACResponse []byte `json:"hmacResponse"`
}

type changePasswordPayload struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type roomIDPayload struct {
	RoomID string `json:"roomId"`
}

type joinRoomPayload struct {
	Name     string `json:"name"`
	RoomCode string `json:"roomCode"`
}

type assignRolePayload struct {
	TargetConnectionID string `json:"targetConnectionId"`
	NewRole            string `json:"newRole"`
}

type toggleRoleLockPayload struct {
	RoomID string `json:"roomId"`
	State  bool   `json:"state"`
}

type setSingleModePayload struct {
	RoomID  string `json:"roomId"`
	Enabled bool   `json:"enabled"`
}

type pickCardPayload struct {
	SlotIndex int `json:"slotIndex"`
}

// decode unmarshals a payload strictly: unknown fields are tolerated, but a
// type mismatch rejects the whole event.
func decode[T any](data []byte, out *T) bool {
	if len(data) == 0 {
		// Events with empty payloads decode into their zero value.
		return true
	}
	return json.Unmarshal(data, out) == nil
}
