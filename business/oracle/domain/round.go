// Package domain contains the core domain types for the oracle context.
package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Validation errors
var (
	ErrInvalidAnswer = errors.New("oracle: answer must be positive")
	ErrStaleRound    = errors.New("oracle: round is stale")
	ErrFutureRound   = errors.New("oracle: round timestamp is in the future")
)

// Round is a single oracle price reading. Answer is fixed-point with the
// feed's native decimals (8 for Chainlink USD feeds).
type Round struct {
	ID        *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}

// Validate checks the round against now and the staleness window.
func (r Round) Validate(now time.Time, maxStaleness time.Duration) error {
	if r.Answer == nil || r.Answer.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAnswer, r.Answer)
	}
	// A small clock skew forward is tolerated.
	if r.UpdatedAt.After(now.Add(time.Minute)) {
		return fmt.Errorf("%w: updated at %s", ErrFutureRound, r.UpdatedAt.Format(time.RFC3339))
	}
	if maxStaleness > 0 && now.Sub(r.UpdatedAt) > maxStaleness {
		return fmt.Errorf("%w: age %s exceeds %s", ErrStaleRound, now.Sub(r.UpdatedAt).Round(time.Second), maxStaleness)
	}
	return nil
}

// Age returns how old the round is relative to now.
func (r Round) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedAt)
}

// SequencerStatus is the L2 sequencer uptime reading.
type SequencerStatus struct {
	Up        bool
	ChangedAt time.Time // when the sequencer last changed state
}

// GraceElapsed reports whether the post-restart grace period has passed.
func (s SequencerStatus) GraceElapsed(now time.Time, grace time.Duration) bool {
	if !s.Up {
		return false
	}
	return now.Sub(s.ChangedAt) >= grace
}
