package ws

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"drafttable/internal/auth"
	"drafttable/internal/domain"
	"drafttable/internal/game"
	"drafttable/internal/observability/metrics"
	"drafttable/internal/secure"
)

var (
	// errBadPayload marks frames whose payload did not decode into the
	// event's schema.
	errBadPayload = errors.New("malformed payload")

	errUnknownTarget = errors.New("unknown target connection")
)

// dispatch routes one decrypted event. Authorization and protocol errors
// fail closed: the handler performs no mutation and usually says nothing on
// the wire, but the outcome is always reported on the dispatch counter.
// Mutating events are followed by a snapshot save before the next event is
// considered durable.
func (h *Hub) dispatch(ev inbound) {
	var (
		mutated bool
		err     error
		known   = true
	)

	switch ev.event {
	case EvIdentify:
		mutated, err = h.handleIdentify(ev.c, ev.data)
	case EvSetupAdmin:
		mutated, err = h.handleSetupAdmin(ev.c, ev.data)
	case EvRequestChallenge:
		err = h.handleRequestChallenge(ev.c)
	case EvAdminLogin:
		err = h.handleAdminLogin(ev.c, ev.data)
	case EvChangePassword:
		err = h.handleChangePassword(ev.c, ev.data)
	case EvCreateRoom:
		mutated, err = h.handleCreateRoom(ev.c, ev.data)
	case EvDeleteRoom:
		mutated, err = h.handleDeleteRoom(ev.c, ev.data)
	case EvJoinRoom:
		mutated, err = h.handleJoinRoom(ev.c, ev.data)
	case EvAssignRole:
		err = h.handleAssignRole(ev.c, ev.data)
	case EvToggleRoleLock:
		mutated, err = h.handleToggleRoleLock(ev.c, ev.data)
	case EvSetSingleMode:
		mutated, err = h.handleSetSingleMode(ev.c, ev.data)
	case EvStartDraft:
		mutated, err = h.handleStartDraft(ev.c)
	case EvUnlockTray:
		mutated, err = h.handleUnlockTray(ev.c)
	case EvPickCard:
		mutated, err = h.handlePickCard(ev.c, ev.data)
	case EvForcePick:
		mutated, err = h.handleForcePick(ev.c)
	case EvMemorizedRole:
		mutated, err = h.handleMemorized(ev.c)
	case EvResetDraft:
		mutated, err = h.handleResetDraft(ev.c)
	case EvFillPhantoms:
		mutated, err = h.handleFillPhantoms(ev.c, ev.data)
	default:
		known = false
	}

	result := "ok"
	switch {
	case !known:
		result = "unknown"
	case errors.Is(err, domain.ErrNotAuthorized):
		result = "unauthorized"
	case err != nil:
		result = "rejected"
	}
	metrics.EventsDispatchedTotal.WithLabelValues(ev.event, result).Inc()
	if mutated {
		_ = h.persist()
	}
}

// Role gates. Exhaustive over the closed role set so a new role cannot
// silently inherit privileges.

func canAdmin(role domain.SessionRole) bool {
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleUnassigned, domain.RolePlayer, domain.RoleJudge,
		domain.RoleStream, domain.RolePendingStream:
		return false
	}
	return false
}

func canRunDraft(role domain.SessionRole) bool {
	switch role {
	case domain.RoleJudge, domain.RoleAdmin:
		return true
	case domain.RoleUnassigned, domain.RolePlayer,
		domain.RoleStream, domain.RolePendingStream:
		return false
	}
	return false
}

func canPick(role domain.SessionRole) bool {
	switch role {
	case domain.RolePlayer:
		return true
	case domain.RoleUnassigned, domain.RoleJudge, domain.RoleAdmin,
		domain.RoleStream, domain.RolePendingStream:
		return false
	}
	return false
}

func (h *Hub) sessionRoom(c *client) *domain.Room {
	if c.session.RoomID == "" {
		return nil
	}
	return h.rooms[c.session.RoomID]
}

func (h *Hub) rejectWith(c *client, message string) {
	c.enqueue(EvValidationError, map[string]any{"message": message}, false)
}

func (h *Hub) handleIdentify(c *client, data []byte) (bool, error) {
	var p identifyPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	token := p.DeviceToken
	if !validDeviceToken(token) {
		minted, err := mintDeviceToken()
		if err != nil {
			slog.Error("device token mint", "error", err)
			return false, err
		}
		token = minted
		c.enqueue(EvDeviceToken, map[string]any{"deviceToken": token}, false)
	}

	now := time.Now().UTC()
	dev, ok := h.devices[token]
	if !ok {
		dev = &domain.DeviceIdentity{Token: token, CreatedAt: now}
		h.devices[token] = dev
	}
	dev.LastSeen = now
	if p.DisplayName != "" {
		dev.DisplayName = p.DisplayName
		c.session.DisplayName = p.DisplayName
	}
	c.session.DeviceToken = token

	if p.ResumeToken != "" {
		if err := auth.VerifyResumeToken(h.credential, token, p.ResumeToken); err == nil {
			c.session.Role = domain.RoleAdmin
			c.enqueue(EvLoginResult, map[string]any{"success": true, "resumed": true}, false)
		}
	}

	h.pushSession(c)
	h.pushAdmin()
	return true, nil
}

func validDeviceToken(token string) bool {
	if len(token) != domain.DeviceTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func mintDeviceToken() (string, error) {
	buf := make([]byte, domain.DeviceTokenBytes)
	if err := secure.ReadRandom(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (h *Hub) handleSetupAdmin(c *client, data []byte) (bool, error) {
	var p setupAdminPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	cred, err := h.auth.Setup(h.credential, p.Password)
	if err != nil {
		message := "setup failed"
		switch {
		case errors.Is(err, domain.ErrAlreadyConfigured):
			message = "admin credential already exists"
		case errors.Is(err, auth.ErrPasswordLength):
			message = err.Error()
		}
		c.enqueue(EvSetupResult, map[string]any{"success": false, "message": message}, false)
		return false, err
	}
	h.credential = cred
	c.session.Role = domain.RoleAdmin
	c.enqueue(EvSetupResult, map[string]any{"success": true}, false)
	slog.Info("admin credential created", "conn", c.id)
	h.pushSession(c)
	h.pushAdmin()
	return true, nil
}

func (h *Hub) handleRequestChallenge(c *client) error {
	ch, err := h.auth.NewChallenge(c.id, h.credential)
	if err != nil {
		if errors.Is(err, domain.ErrSetupRequired) {
			c.enqueue(EvSetupRequired, nil, false)
		}
		return err
	}
	c.enqueue(EvLoginChallenge, map[string]any{
		"salt":  ch.Salt,
		"nonce": ch.Nonce,
		"kdf": map[string]any{
			"t": ch.Time, "m": ch.Memory, "p": ch.Threads, "k": ch.KeyLen,
		},
	}, false)
	return nil
}

func (h *Hub) handleAdminLogin(c *client, data []byte) error {
	var p adminLoginPayload
	if !decode(data, &p) {
		return errBadPayload
	}
	err := h.auth.VerifyResponse(c.id, c.session.SourceAddr, h.credential, p.HMACResponse)
	if err != nil {
		// Deliberately generic: lockouts and bad credentials read the same.
		c.enqueue(EvLoginResult, map[string]any{"success": false, "message": "invalid credentials"}, false)
		return err
	}
	c.session.Role = domain.RoleAdmin
	payload := map[string]any{"success": true}
	if tok, err := auth.IssueResumeToken(h.credential, c.session.DeviceToken); err == nil {
		payload["resumeToken"] = tok
	}
	c.enqueue(EvLoginResult, payload, false)
	h.pushSession(c)
	h.pushAdmin()
	return nil
}

// handleChangePassword swaps the credential only once the new snapshot is on
// disk; a failed save keeps the old password valid.
func (h *Hub) handleChangePassword(c *client, data []byte) error {
	if !canAdmin(c.session.Role) {
		return domain.ErrNotAuthorized
	}
	var p changePasswordPayload
	if !decode(data, &p) {
		return errBadPayload
	}
	next, err := h.auth.ChangePassword(h.credential, p.OldPassword, p.NewPassword)
	if err != nil {
		message := "invalid credentials"
		if errors.Is(err, auth.ErrPasswordLength) {
			message = err.Error()
		}
		c.enqueue(EvPasswordResult, map[string]any{"success": false, "message": message}, false)
		return err
	}
	previous := h.credential
	h.credential = next
	if err := h.persist(); err != nil {
		h.credential = previous
		c.enqueue(EvPasswordResult, map[string]any{"success": false, "message": "rotation not saved"}, false)
		return err
	}
	c.enqueue(EvPasswordResult, map[string]any{"success": true}, false)
	return nil
}

func (h *Hub) handleCreateRoom(c *client, data []byte) (bool, error) {
	if !canAdmin(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	var p roomIDPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	if _, err := h.game.CreateRoom(h.rooms, p.RoomID); err != nil {
		if errors.Is(err, domain.ErrRoomExists) {
			h.rejectWith(c, "room already exists")
		}
		return false, err
	}
	h.pushAdmin()
	return true, nil
}

func (h *Hub) handleDeleteRoom(c *client, data []byte) (bool, error) {
	if !canAdmin(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	var p roomIDPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	roomID := strings.ToUpper(strings.TrimSpace(p.RoomID))
	evicted := h.roomClients(roomID)
	if err := h.game.DeleteRoom(h.rooms, roomID); err != nil {
		if errors.Is(err, domain.ErrRoomLocked) {
			h.rejectWith(c, "room is role-locked")
		}
		return false, err
	}
	for _, ec := range evicted {
		ec.session.RoomID = ""
		switch ec.session.Role {
		case domain.RoleStream:
			ec.session.Role = domain.RolePendingStream
		case domain.RolePlayer, domain.RoleJudge:
			ec.session.Role = domain.RoleUnassigned
		case domain.RoleUnassigned, domain.RoleAdmin, domain.RolePendingStream:
			// unchanged
		}
		h.pushSession(ec)
	}
	h.pushAdmin()
	return true, nil
}

func (h *Hub) handleJoinRoom(c *client, data []byte) (bool, error) {
	if c.session.DeviceToken == "" {
		return false, domain.ErrNotAuthorized
	}
	var p joinRoomPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	roomID := strings.ToUpper(strings.TrimSpace(p.RoomCode))
	room, ok := h.rooms[roomID]
	if !ok {
		h.rejectWith(c, "room not found")
		return false, domain.ErrRoomNotFound
	}
	if p.Name != "" {
		c.session.DisplayName = p.Name
		if dev, ok := h.devices[c.session.DeviceToken]; ok {
			dev.DisplayName = p.Name
		}
	}
	c.session.RoomID = roomID
	if c.session.Role == domain.RoleUnassigned {
		c.session.Role = domain.RolePlayer
	}
	// Only players occupy seats; judges, admins and overlays spectate.
	if c.session.Role == domain.RolePlayer {
		h.game.Join(room, c.session.DeviceToken)
	}
	h.pushSession(c)
	h.pushRoom(roomID)
	h.pushAdmin()
	return true, nil
}

func (h *Hub) handleAssignRole(c *client, data []byte) error {
	if !canAdmin(c.session.Role) {
		return domain.ErrNotAuthorized
	}
	var p assignRolePayload
	if !decode(data, &p) {
		return errBadPayload
	}
	role, ok := domain.ParseSessionRole(p.NewRole)
	if !ok {
		return errBadPayload
	}
	target, ok := h.clients[p.TargetConnectionID]
	if !ok {
		return errUnknownTarget
	}
	target.session.Role = role
	h.pushSession(target)
	h.pushAdmin()
	return nil
}

func (h *Hub) handleToggleRoleLock(c *client, data []byte) (bool, error) {
	if !canAdmin(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	var p toggleRoleLockPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	room, ok := h.rooms[strings.ToUpper(strings.TrimSpace(p.RoomID))]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if err := h.game.SetRoleLock(room, p.State); err != nil {
		if errors.Is(err, domain.ErrSeatsIncomplete) {
			h.rejectWith(c, err.Error())
		}
		return false, err
	}
	h.pushRoom(room.ID)
	h.pushAdmin()
	return true, nil
}

func (h *Hub) handleSetSingleMode(c *client, data []byte) (bool, error) {
	if !canAdmin(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	var p setSingleModePayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	room, ok := h.rooms[strings.ToUpper(strings.TrimSpace(p.RoomID))]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if err := h.game.SetSingleMode(room, p.Enabled); err != nil {
		return false, err
	}
	h.pushRoom(room.ID)
	h.pushAdmin()
	return true, nil
}

func (h *Hub) handleStartDraft(c *client) (bool, error) {
	if !canRunDraft(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	room := h.sessionRoom(c)
	if room == nil {
		return false, domain.ErrRoomNotFound
	}
	if err := h.game.StartDraft(room); err != nil {
		return false, err
	}
	h.pushRoom(room.ID)
	h.pushAdmin()
	return true, nil
}

func (h *Hub) handleUnlockTray(c *client) (bool, error) {
	if !canRunDraft(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	room := h.sessionRoom(c)
	if room == nil {
		return false, domain.ErrRoomNotFound
	}
	if err := h.game.UnlockTray(room); err != nil {
		return false, err
	}
	// Overlays drop any residual card the moment the tray opens.
	for _, rc := range h.roomClients(room.ID) {
		rc.enqueue(EvOverlayClear, nil, false)
	}
	h.pushRoom(room.ID)
	return true, nil
}

func (h *Hub) handlePickCard(c *client, data []byte) (bool, error) {
	if !canPick(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	room := h.sessionRoom(c)
	if room == nil {
		return false, domain.ErrRoomNotFound
	}
	var p pickCardPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	st := room.State
	if st.Settings.SingleMode && st.SeatOf(c.session.DeviceToken) != st.CurrentTurn {
		return false, domain.ErrNotAuthorized
	}
	out, err := h.game.Pick(room, p.SlotIndex)
	if err != nil {
		return false, err
	}
	h.distributePick(c, room, out)
	return true, nil
}

func (h *Hub) handleForcePick(c *client) (bool, error) {
	if !canRunDraft(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	room := h.sessionRoom(c)
	if room == nil {
		return false, domain.ErrRoomNotFound
	}
	out, err := h.game.ForcePick(room)
	if err != nil {
		return false, err
	}
	h.distributePick(c, room, out)
	return true, nil
}

// distributePick reveals the drawn card privately and announces the draw
// publicly. In single mode the card goes only to the device holding the
// seat; otherwise it goes to the initiating connection.
func (h *Hub) distributePick(initiator *client, room *domain.Room, out *game.PickOutcome) {
	private := map[string]any{"seat": out.Seat, "slot": out.Slot, "card": out.Card}
	if room.State.Settings.SingleMode {
		for _, rc := range h.roomClients(room.ID) {
			if room.State.SeatOf(rc.session.DeviceToken) == out.Seat {
				rc.enqueue(EvPickResult, private, false)
			}
		}
	} else {
		initiator.enqueue(EvPickResult, private, false)
	}

	announce := map[string]any{"seat": out.Seat, "slot": out.Slot, "completed": out.Completed}
	for _, rc := range h.roomClients(room.ID) {
		rc.enqueue(EvPickAnnounce, announce, false)
	}
	h.pushRoom(room.ID)
	h.pushAdmin()
}

func (h *Hub) handleMemorized(c *client) (bool, error) {
	switch c.session.Role {
	case domain.RolePlayer, domain.RoleJudge, domain.RoleAdmin:
	case domain.RoleUnassigned, domain.RoleStream, domain.RolePendingStream:
		return false, domain.ErrNotAuthorized
	}
	room := h.sessionRoom(c)
	if room == nil {
		return false, domain.ErrRoomNotFound
	}
	if !h.game.Memorized(room) {
		return false, nil
	}
	for _, rc := range h.roomClients(room.ID) {
		rc.enqueue(EvCardClosed, nil, false)
	}
	h.pushRoom(room.ID)
	return true, nil
}

func (h *Hub) handleResetDraft(c *client) (bool, error) {
	if !canRunDraft(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	room := h.sessionRoom(c)
	if room == nil {
		return false, domain.ErrRoomNotFound
	}
	h.game.ResetDraft(room)
	for _, rc := range h.roomClients(room.ID) {
		rc.enqueue(EvOverlayClear, nil, false)
	}
	h.pushRoom(room.ID)
	h.pushAdmin()
	return true, nil
}

// handleFillPhantoms seats the synthetic debug devices in the admin's room
// until the table is full. Debug builds only.
func (h *Hub) handleFillPhantoms(c *client, data []byte) (bool, error) {
	if !h.debug || !canAdmin(c.session.Role) {
		return false, domain.ErrNotAuthorized
	}
	var p roomIDPayload
	if !decode(data, &p) {
		return false, errBadPayload
	}
	roomID := strings.ToUpper(strings.TrimSpace(p.RoomID))
	if roomID == "" {
		roomID = c.session.RoomID
	}
	room, ok := h.rooms[roomID]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	for token, dev := range h.devices {
		if dev.Phantom {
			h.game.Join(room, token)
		}
	}
	h.pushRoom(room.ID)
	h.pushAdmin()
	return true, nil
}
