package domain

import "errors"

var (
	ErrNotAuthorized      = errors.New("not authorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSetupRequired      = errors.New("admin setup required")
	ErrAlreadyConfigured  = errors.New("admin credential already exists")

	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomLocked   = errors.New("room is role-locked")

	ErrRolesNotLocked = errors.New("roles must be locked first")
	ErrDraftNotActive = errors.New("no draft in progress")
	ErrDraftActive    = errors.New("draft already in progress")
	ErrTrayLocked     = errors.New("tray is locked")
	ErrSlotRevealed   = errors.New("slot already revealed")
	ErrSlotOutOfRange = errors.New("slot index out of range")
	ErrCardDisplayed  = errors.New("a card is already displayed")

	// ErrSeatsIncomplete is surfaced to the initiating admin with a
	// specific message, unlike the silent authorization failures above.
	ErrSeatsIncomplete = errors.New("single mode requires exactly 10 uniquely seated players")
)
