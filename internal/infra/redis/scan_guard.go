package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/reconpoint/api/pkg/domain/shared"
)

// guardTTL bounds how long a reservation can outlive its scan if the
// process dies before releasing. The stale-scan watchdog fails such scans
// well before this expires.
const guardTTL = 24 * time.Hour

// ScanGuard implements scan.Guard using a single SETNX per target. The
// atomic set is the entire admission decision: concurrent creates for the
// same target race on one key and exactly one wins.
type ScanGuard struct {
	client *Client
}

// NewScanGuard creates a new ScanGuard.
func NewScanGuard(client *Client) *ScanGuard {
	return &ScanGuard{client: client}
}

// TryReserve atomically reserves the target slot.
func (g *ScanGuard) TryReserve(ctx context.Context, targetID shared.ID) (bool, error) {
	ok, err := g.client.Client().SetNX(ctx, g.key(targetID), "1", guardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve scan slot: %w", err)
	}
	return ok, nil
}

// Release frees the target slot. Deleting an absent key is a no-op, so
// repeated releases are safe.
func (g *ScanGuard) Release(ctx context.Context, targetID shared.ID) error {
	if err := g.client.Client().Del(ctx, g.key(targetID)).Err(); err != nil {
		return fmt.Errorf("failed to release scan slot: %w", err)
	}
	return nil
}

func (g *ScanGuard) key(targetID shared.ID) string {
	return "scan:guard:" + targetID.String()
}
