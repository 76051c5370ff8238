package services

import (
	"context"
	"reflect"
	"testing"
	"time"

	"kassa/internal/config"
	"kassa/internal/core"
)

func month(y int, m time.Month) core.Period { return core.MonthOf(utc(y, m, 1, 0, 0)) }
func year(y int) core.Period                { return core.YearOf(utc(y, 1, 1, 0, 0)) }

func TestMonthlyEligibility(t *testing.T) {
	tests := []struct {
		name   string
		offset core.Offset
		now    time.Time
		want   []core.Period
	}{
		{"mid month", 300, utc(2025, 6, 14, 19, 0), []core.Period{month(2025, 5)}},
		{"east tenant on local 1st", 300, utc(2025, 6, 30, 19, 0), []core.Period{month(2025, 5), month(2025, 6)}},
		{"west tenant on local 1st", -300, utc(2025, 7, 1, 5, 0), []core.Period{month(2025, 6)}},
		{"UTC tenant on 1st", 0, utc(2025, 7, 1, 0, 0), []core.Period{month(2025, 6)}},
		{"east tenant on local Jan 1", 300, utc(2024, 12, 31, 19, 0), []core.Period{month(2024, 11), month(2024, 12)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MonthlyEligibility{}.Periods(context.Background(), nil, core.Tenant{ID: 1, Offset: tt.offset}, tt.now)
			if err != nil {
				t.Fatalf("Periods() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Periods() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStrictYearly(t *testing.T) {
	tests := []struct {
		name   string
		offset core.Offset
		now    time.Time
		want   []core.Period
	}{
		{"local June 15", 300, utc(2025, 6, 14, 19, 0), nil},
		{"local Jan 1 east", 300, utc(2024, 12, 31, 19, 0), []core.Period{year(2024)}},
		{"local Jan 1 west", -300, utc(2025, 1, 1, 5, 0), []core.Period{year(2024)}},
		{"UTC Jan 1 but local Dec 31", -300, utc(2025, 1, 1, 0, 0), nil},
		{"local Jan 2", 0, utc(2025, 1, 2, 0, 0), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StrictYearly{}.Periods(context.Background(), nil, core.Tenant{ID: 1, Offset: tt.offset}, tt.now)
			if err != nil {
				t.Fatalf("Periods() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Periods() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeYears struct {
	years      []int
	beforeYear int
}

func (f *fakeYears) SelectUnabsorbedYears(_ context.Context, _ int64, beforeYear int) ([]int, error) {
	f.beforeYear = beforeYear
	return f.years, nil
}

func TestCatchupYearly(t *testing.T) {
	src := &fakeYears{years: []int{2023, 2024}}
	got, err := CatchupYearly{}.Periods(context.Background(), src, core.Tenant{ID: 1, Offset: 300}, utc(2025, 6, 14, 19, 0))
	if err != nil {
		t.Fatalf("Periods() error = %v", err)
	}
	if want := []core.Period{year(2023), year(2024)}; !reflect.DeepEqual(got, want) {
		t.Errorf("Periods() = %v, want %v", got, want)
	}
	if src.beforeYear != 2025 {
		t.Errorf("beforeYear = %d, want 2025", src.beforeYear)
	}
}

func TestGetYearlyEligibility(t *testing.T) {
	for _, mode := range []string{YearlyStrict, YearlyCatchup} {
		if _, err := GetYearlyEligibility(mode); err != nil {
			t.Errorf("GetYearlyEligibility(%q) error = %v", mode, err)
		}
	}
	if _, err := GetYearlyEligibility("sometimes"); err == nil {
		t.Error("GetYearlyEligibility() should reject unknown modes")
	}
	if got := YearlyModes(); !reflect.DeepEqual(got, []string{YearlyCatchup, YearlyStrict}) {
		t.Errorf("YearlyModes() = %v", got)
	}
}

func TestYearlyModesMatchConfig(t *testing.T) {
	if got := YearlyModes(); !reflect.DeepEqual(got, config.YearlyModes) {
		t.Errorf("registered modes %v, config accepts %v", got, config.YearlyModes)
	}
}
