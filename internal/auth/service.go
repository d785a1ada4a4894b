package auth

import (
	"crypto/hmac"
	"errors"
	"time"

	"drafttable/internal/domain"
	"drafttable/internal/observability/metrics"
	"drafttable/internal/secure"
)

const (
	nonceBytes      = 32
	maxFailures     = 5
	lockoutDuration = 10 * time.Minute
)

var (
	ErrLockedOut   = errors.New("auth: source address locked out")
	ErrNoChallenge = errors.New("auth: no pending challenge")
)

// Challenge is the server half of the two-phase login: the client derives
// its hash from Salt and the password, then answers HMAC(Nonce, hash).
type Challenge struct {
	Salt  []byte
	Nonce []byte
	// KDF cost so the client derives the identical hash.
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

type lockout struct {
	failures    int
	lockedUntil time.Time
}

// Service gates administrative access: challenge issuance, response
// verification, per-address brute-force lockouts, and password rotation.
// It is called only from the dispatch goroutine.
type Service struct {
	params     Argon2Params
	now        func() time.Time
	challenges map[string][]byte // connection id -> pending nonce
	lockouts   map[string]*lockout
}

func NewService() *Service {
	return &Service{
		params:     defaultParams(),
		now:        time.Now,
		challenges: make(map[string][]byte),
		lockouts:   make(map[string]*lockout),
	}
}

// Setup creates the singleton admin credential during first-run setup.
func (s *Service) Setup(existing *domain.AdminCredential, password string) (*domain.AdminCredential, error) {
	if existing != nil {
		return nil, domain.ErrAlreadyConfigured
	}
	return NewCredential(password, s.params)
}

// NewChallenge issues a fresh nonce for the connection, replacing any
// earlier unanswered challenge.
func (s *Service) NewChallenge(connID string, cred *domain.AdminCredential) (*Challenge, error) {
	if cred == nil {
		return nil, domain.ErrSetupRequired
	}
	nonce := make([]byte, nonceBytes)
	if err := secure.ReadRandom(nonce); err != nil {
		return nil, err
	}
	s.challenges[connID] = nonce
	return &Challenge{
		Salt:    cred.Salt,
		Nonce:   nonce,
		Time:    cred.Time,
		Memory:  cred.Memory,
		Threads: cred.Threads,
		KeyLen:  cred.KeyLen,
	}, nil
}

// VerifyResponse checks the client's HMAC answer against the pending
// challenge. Failures count toward the source address lockout regardless of
// which device token is in play; any success clears the slate.
func (s *Service) VerifyResponse(connID, sourceAddr string, cred *domain.AdminCredential, response []byte) error {
	if locked, _ := s.isLockedOut(sourceAddr); locked {
		metrics.LoginAttemptsTotal.WithLabelValues("locked_out").Inc()
		return ErrLockedOut
	}
	if cred == nil {
		return domain.ErrSetupRequired
	}
	nonce, ok := s.challenges[connID]
	if !ok {
		s.recordFailure(sourceAddr)
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return ErrNoChallenge
	}
	delete(s.challenges, connID)

	expected := challengeResponse(cred, nonce)
	if !hmac.Equal(expected, response) {
		s.recordFailure(sourceAddr)
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return domain.ErrInvalidCredentials
	}
	delete(s.lockouts, sourceAddr)
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	return nil
}

// ChangePassword validates the current plaintext password before deriving a
// replacement credential with a fresh salt. Persisting the result is the
// caller's job and must complete before the rotation is acknowledged.
func (s *Service) ChangePassword(cred *domain.AdminCredential, oldPassword, newPassword string) (*domain.AdminCredential, error) {
	if cred == nil {
		return nil, domain.ErrSetupRequired
	}
	if !VerifyPassword(cred, oldPassword) {
		return nil, domain.ErrInvalidCredentials
	}
	return NewCredential(newPassword, s.params)
}

// DropChallenge discards any pending challenge for a closed connection.
func (s *Service) DropChallenge(connID string) {
	delete(s.challenges, connID)
}

func (s *Service) isLockedOut(addr string) (bool, time.Time) {
	lo, ok := s.lockouts[addr]
	if !ok {
		return false, time.Time{}
	}
	if lo.failures < maxFailures {
		return false, time.Time{}
	}
	if s.now().After(lo.lockedUntil) {
		delete(s.lockouts, addr)
		return false, time.Time{}
	}
	return true, lo.lockedUntil
}

func (s *Service) recordFailure(addr string) {
	lo, ok := s.lockouts[addr]
	if !ok {
		lo = &lockout{}
		s.lockouts[addr] = lo
	}
	lo.failures++
	if lo.failures >= maxFailures {
		lo.lockedUntil = s.now().Add(lockoutDuration)
	}
}
