package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	tokenTTL    = time.Hour
	sweepPeriod = 30 * time.Minute
)

var (
	// ErrMissing covers absent token or session (a 400-class rejection).
	ErrMissing = errors.New("missing csrf token or session")
	// ErrInvalid covers mismatch, expiry, or replay (a 403-class rejection).
	ErrInvalid = errors.New("invalid csrf token")
)

type record struct {
	token   string
	expires time.Time
}

// Store holds single-use CSRF tokens keyed by session id. A token's presence
// is the sole proof of validity; lookup consumes the record whatever the
// comparison outcome, so a second validation of the same token always fails.
type Store struct {
	mu      sync.Mutex
	records map[string]record
	clock   clockwork.Clock
}

func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		records: make(map[string]record),
		clock:   clock,
	}
}

// Issue creates a token bound to a fresh session id.
func (s *Store) Issue() (token, sessionID string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	sessionID = uuid.NewString()

	s.mu.Lock()
	s.records[sessionID] = record{token: token, expires: s.clock.Now().Add(tokenTTL)}
	s.mu.Unlock()

	return token, sessionID, nil
}

// Validate consumes and checks the token for a session. The delete happens in
// the same critical section as the lookup.
func (s *Store) Validate(token, sessionID string) error {
	if token == "" || sessionID == "" {
		return ErrMissing
	}

	s.mu.Lock()
	rec, ok := s.records[sessionID]
	if ok {
		delete(s.records, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrInvalid
	}
	if s.clock.Now().After(rec.expires) {
		return ErrInvalid
	}
	if subtle.ConstantTimeCompare([]byte(rec.token), []byte(token)) != 1 {
		return ErrInvalid
	}
	return nil
}

// StartSweep deletes expired records on a fixed period until ctx is done.
func (s *Store) StartSweep(ctx context.Context) {
	ticker := s.clock.NewTicker(sweepPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				removed := s.sweep()
				if removed > 0 {
					log.Printf("[CSRF] Sweep removed %d expired tokens", removed)
				}
			}
		}
	}()
}

func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for id, rec := range s.records {
		if now.After(rec.expires) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
