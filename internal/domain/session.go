package domain

import "time"

// DeviceTokenBytes is the length of the random token minted per device.
const DeviceTokenBytes = 32

// DeviceIdentity is the durable identity of one physical device. It outlives
// any single connection and is looked up by token on IDENTIFY.
type DeviceIdentity struct {
	Token       string    `json:"token"`
	DisplayName string    `json:"displayName,omitempty"`
	// Phantom identities are synthetic table-fillers used in debug-assisted
	// testing; they never correspond to a live connection.
	Phantom   bool      `json:"phantom,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// ConnectionSession is the transient per-connection record. It is created
// after the handshake and discarded on disconnect.
type ConnectionSession struct {
	ConnID       string      `json:"connectionId"`
	DeviceToken  string      `json:"deviceToken"`
	DisplayName  string      `json:"displayName"`
	SourceAddr   string      `json:"sourceAddress"`
	Role         SessionRole `json:"-"`
	RoomID       string      `json:"roomId,omitempty"`
	StreamLayout string      `json:"streamLayout,omitempty"`
}
