package coordinator

import (
	"errors"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// RetryPolicy bounds the recovery loop used where two writers can race
// on the same identifier: batch creation (id collision) and stage
// append (index collision). It is a value object injected into the
// coordinator so tests can tighten or widen it.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int

	// Retryable reports whether an attempt's failure may be recovered
	// by starting the attempt over.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries identifier collisions up to three
// attempts, matching the creation bound in the protocol description.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Retryable:   IsCollision,
	}
}

// IsCollision reports whether err is an identifier or address collision
// on either system of record.
func IsCollision(err error) bool {
	return errors.Is(err, ledger.ErrAccountExists) || errors.Is(err, cache.ErrDuplicate)
}

func (p RetryPolicy) retryable(err error) bool {
	return p.Retryable != nil && p.Retryable(err)
}
