package attendance

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedLedger remembers windows already marked so that repeated frames of
// a present identity skip the backing ledger.
type CachedLedger struct {
	Ledger
	loc    *time.Location
	marked *lru.Cache[string, struct{}]
}

// NewCachedLedger wraps inner with an LRU of size remembered windows. loc
// must match the time zone of the inner ledger.
func NewCachedLedger(inner Ledger, size int, loc *time.Location) (*CachedLedger, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("creating mark cache: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CachedLedger{Ledger: inner, loc: loc, marked: cache}, nil
}

func (c *CachedLedger) MarkIfEligible(ctx context.Context, req MarkRequest) (MarkResult, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	key := identityKey(req.ProjectID, req.IdentityName) + "\x00" + WindowKey(req, c.loc)
	if c.marked.Contains(key) {
		return AlreadyMarked, nil
	}

	result, err := c.Ledger.MarkIfEligible(ctx, req)
	if err != nil {
		return "", err
	}
	c.marked.Add(key, struct{}{})
	return result, nil
}

// Len returns the number of remembered windows.
func (c *CachedLedger) Len() int {
	return c.marked.Len()
}
