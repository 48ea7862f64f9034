// Package app contains application services and port definitions for the oracle context.
package app

import (
	"context"

	"github.com/nkozak/capsplit/business/oracle/domain"
)

// RoundSource provides raw price rounds from a feed: a Chainlink
// aggregator, a websocket market feed or a manual source in sim mode.
type RoundSource interface {
	// Name identifies the source for logs and metrics.
	Name() string

	// LatestRound returns the most recent reading. No validation is
	// applied; the service layer decides usability.
	LatestRound(ctx context.Context) (domain.Round, error)
}

// SequencerSource reports L2 sequencer uptime. Optional; nil on L1 and in
// sim mode.
type SequencerSource interface {
	Status(ctx context.Context) (domain.SequencerStatus, error)
}
