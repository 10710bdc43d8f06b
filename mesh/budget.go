// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package mesh

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Category names the three backpressure budgets: separate budgets for
// consensus, network, and maintenance traffic so one noisy category can't
// starve the others.
type Category int

const (
	CategoryConsensus Category = iota
	CategoryNetwork
	CategoryMaintenance
)

// Budget throttles a dispatch loop to a per-tick iteration rate, backing off
// exponentially while the limiter is exhausted.
type Budget struct {
	limiter    *rate.Limiter
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewBudget builds a Budget allowing ratePerSec iterations/sec with a burst
// of int(ratePerSec)+1.
func NewBudget(ratePerSec float64, minBackoff, maxBackoff time.Duration) *Budget {
	return &Budget{
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Wait blocks until the budget allows another iteration, doubling its
// backoff on each consecutive throttle and resetting once an iteration is
// granted immediately.
func (b *Budget) Wait(ctx context.Context) error {
	backoff := b.minBackoff
	for {
		if b.limiter.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
		}
	}
}
