package services

import (
	"context"
	"fmt"
	"time"

	"kassa/internal/core"
	"kassa/internal/log"
)

// TenantFinder looks tenants up by stored offset.
type TenantFinder interface {
	SelectTenantsByOffset(ctx context.Context, offsets []core.Offset) ([]core.Tenant, error)
}

// Resolver finds the tenants whose wall clock currently reads a given time.
type Resolver struct {
	store TenantFinder
}

func NewResolver(store TenantFinder) *Resolver {
	return &Resolver{store: store}
}

// OffsetsAt returns the UTC offsets at which the local clock reads
// hour:minute at instant now. now is rounded to the minute so a trigger
// firing a few seconds late still lands on the boundary. Local time of day
// repeats every 24h, so both Δ and Δ-24h are candidates when in range.
func OffsetsAt(now time.Time, hour, minute int) []core.Offset {
	utc := now.UTC().Round(time.Minute)
	target := time.Date(utc.Year(), utc.Month(), utc.Day(), hour, minute, 0, 0, time.UTC)
	if target.Before(utc) {
		target = target.AddDate(0, 0, 1)
	}
	delta := core.OffsetOf(target.Sub(utc))

	var offsets []core.Offset
	for _, o := range []core.Offset{delta, delta - 24*60} {
		if o.Validate() == nil {
			offsets = append(offsets, o)
		}
	}
	return offsets
}

// FindTenantsAtLocalTime returns tenants whose local clock reads hour:minute
// at now. No match is an empty result, not an error.
func (r *Resolver) FindTenantsAtLocalTime(ctx context.Context, now time.Time, hour, minute int) ([]core.Tenant, error) {
	offsets := OffsetsAt(now, hour, minute)
	if len(offsets) == 0 {
		return nil, nil
	}

	tenants, err := r.store.SelectTenantsByOffset(ctx, offsets)
	if err != nil {
		return nil, fmt.Errorf("resolve tenants at %02d:%02d: %w", hour, minute, err)
	}

	stageLogger(ctx, log.ComponentResolver).DebugContext(ctx, "Resolved tenants",
		"local_time", fmt.Sprintf("%02d:%02d", hour, minute),
		"offsets", fmt.Sprint(offsets),
		log.FieldCount, len(tenants))
	return tenants, nil
}
