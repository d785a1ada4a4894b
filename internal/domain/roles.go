package domain

// SessionRole is the closed set of roles a connection can hold. Every
// authorization check switches exhaustively over this type.
type SessionRole int

const (
	RoleUnassigned SessionRole = iota
	RolePlayer
	RoleJudge
	RoleAdmin
	RoleStream
	RolePendingStream
)

func (r SessionRole) String() string {
	switch r {
	case RoleUnassigned:
		return "UNASSIGNED"
	case RolePlayer:
		return "PLAYER"
	case RoleJudge:
		return "JUDGE"
	case RoleAdmin:
		return "ADMIN"
	case RoleStream:
		return "STREAM"
	case RolePendingStream:
		return "PENDING_STREAM"
	default:
		return "UNASSIGNED"
	}
}

// ParseSessionRole maps the wire name back to a role. Unknown names resolve
// to RoleUnassigned with ok=false so handlers can reject them.
func ParseSessionRole(s string) (SessionRole, bool) {
	switch s {
	case "UNASSIGNED":
		return RoleUnassigned, true
	case "PLAYER":
		return RolePlayer, true
	case "JUDGE":
		return RoleJudge, true
	case "ADMIN":
		return RoleAdmin, true
	case "STREAM":
		return RoleStream, true
	case "PENDING_STREAM":
		return RolePendingStream, true
	default:
		return RoleUnassigned, false
	}
}

// Card is one of the hidden role cards dealt during a draft.
type Card string

const (
	CardCitizen Card = "CITIZEN"
	CardSheriff Card = "SHERIFF"
	CardMafia   Card = "MAFIA"
	CardDon     Card = "DON"
)

// DeckSize is the fixed number of slots in the draft tray.
const DeckSize = 10

// Deck returns a fresh copy of the fixed ten-card deck:
// six citizens, one sheriff, two mafia, one don.
func Deck() []Card {
	return []Card{
		CardCitizen, CardCitizen, CardCitizen, CardCitizen, CardCitizen, CardCitizen,
		CardSheriff,
		CardMafia, CardMafia,
		CardDon,
	}
}
