// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"time"
)

// GatewayBotInfo is the response of GET /gateway/bot: where to
// connect, how many shards the service recommends, and how many fresh
// sessions the bot may still start.
type GatewayBotInfo struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit is the bot's identify budget.
type SessionStartLimit struct {
	Total      int `json:"total"`
	Remaining  int `json:"remaining"`
	ResetAfter int `json:"reset_after"`

	// MaxConcurrency is how many shards may identify in the same
	// five-second slot.
	MaxConcurrency int `json:"max_concurrency"`
}

// ResetIn returns ResetAfter, which the service sends in milliseconds,
// as a duration.
func (limit SessionStartLimit) ResetIn() time.Duration {
	return time.Duration(limit.ResetAfter) * time.Millisecond
}

// GatewayBot fetches the bot's gateway endpoint and session limits.
func (dispatcher *Dispatcher) GatewayBot(ctx context.Context) (*GatewayBotInfo, error) {
	var info GatewayBotInfo
	if err := dispatcher.Do(ctx, &Request{Route: GetGatewayBot}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
