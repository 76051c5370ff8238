package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kassa/internal/core"
)

// Yearly eligibility modes.
const (
	YearlyStrict  = "strict"
	YearlyCatchup = "catchup"
)

// YearSource lists completed years that still hold monthly rows without a
// yearly parent.
type YearSource interface {
	SelectUnabsorbedYears(ctx context.Context, tenantID int64, beforeYear int) ([]int, error)
}

// Eligibility decides which periods of a tier may be rolled up for a
// tenant at a given instant.
type Eligibility interface {
	Periods(ctx context.Context, src YearSource, t core.Tenant, now time.Time) ([]core.Period, error)
}

// MonthlyEligibility picks the previous UTC month, plus the tenant's own
// previous month on the first local day of a month. Tenants east of UTC
// enter a new month before UTC does.
type MonthlyEligibility struct{}

func (MonthlyEligibility) Periods(_ context.Context, _ YearSource, t core.Tenant, now time.Time) ([]core.Period, error) {
	periods := []core.Period{core.MonthOf(now.UTC()).Prev()}

	local := t.LocalNow(now).Round(time.Minute)
	if local.Day() == 1 {
		if own := core.MonthOf(local).Prev(); !own.Start.Equal(periods[0].Start) {
			periods = append(periods, own)
		}
	}
	return periods, nil
}

// StrictYearly rolls the previous year only when the tenant's local date is
// January 1st.
type StrictYearly struct{}

func (StrictYearly) Periods(_ context.Context, _ YearSource, t core.Tenant, now time.Time) ([]core.Period, error) {
	local := t.LocalNow(now).Round(time.Minute)
	if local.Month() != time.January || local.Day() != 1 {
		return nil, nil
	}
	return []core.Period{core.YearOf(local).Prev()}, nil
}

// CatchupYearly rolls every completed local year that still has unabsorbed
// monthly rows, on any date.
type CatchupYearly struct{}

func (CatchupYearly) Periods(ctx context.Context, src YearSource, t core.Tenant, now time.Time) ([]core.Period, error) {
	local := t.LocalNow(now)
	years, err := src.SelectUnabsorbedYears(ctx, t.ID, local.Year())
	if err != nil {
		return nil, err
	}
	periods := make([]core.Period, 0, len(years))
	for _, y := range years {
		periods = append(periods, core.YearOf(time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)))
	}
	return periods, nil
}

var yearlyStrategies = map[string]Eligibility{
	YearlyStrict:  StrictYearly{},
	YearlyCatchup: CatchupYearly{},
}

// GetYearlyEligibility returns the strategy registered for mode.
func GetYearlyEligibility(mode string) (Eligibility, error) {
	e, ok := yearlyStrategies[mode]
	if !ok {
		return nil, fmt.Errorf("unknown yearly rollup mode: %q", mode)
	}
	return e, nil
}

// YearlyModes lists the registered modes.
func YearlyModes() []string {
	modes := make([]string, 0, len(yearlyStrategies))
	for m := range yearlyStrategies {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}
