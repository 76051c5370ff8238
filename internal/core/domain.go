package core

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxTitleLength   = 10
	MaxCommentLength = 30
	MaxCategories    = 20
)

type (
	Tenant struct {
		ID           int64 // Telegram chat id
		FirstName    string
		Username     string
		Language     string
		Offset       Offset
		Balance      decimal.Decimal
		Currency     string
		IsPremium    bool
		PremiumUntil *time.Time
	}

	Category struct {
		ID        int64
		TenantID  int64
		Title     string
		IsExpense bool
		IsActive  bool
	}

	// Transaction is a raw record. CreatedAt holds the tenant-local wall clock
	// at insert time, stored in the UTC location.
	Transaction struct {
		ID         int64
		TenantID   int64
		CategoryID int64
		Amount     decimal.Decimal
		Comment    string
		CreatedAt  time.Time
	}

	// DayEntry is a transaction joined with what a notification needs to show it.
	DayEntry struct {
		Amount       decimal.Decimal
		CategoryID   int64
		CategoryName string
		Comment      string
		LocalTime    time.Time
		Currency     string
	}

	DailySummary struct {
		ID         int64
		TenantID   int64
		CategoryID int64
		Day        time.Time
		Amount     decimal.Decimal
		MonthlyID  *int64
	}

	MonthlySummary struct {
		ID         int64
		TenantID   int64
		CategoryID int64
		Month      time.Time
		Amount     decimal.Decimal
		YearlyID   *int64
	}

	YearlySummary struct {
		ID         int64
		TenantID   int64
		CategoryID int64
		Year       int
		Amount     decimal.Decimal
	}

	// Profile is the read model behind the profile screen.
	Profile struct {
		Tenant          Tenant
		MonthlyExpenses decimal.Decimal
		MonthlyIncome   decimal.Decimal
	}
)

var (
	ErrEmptyTitle      = errors.New("empty category title")
	ErrTitleTooLong    = errors.New("category title too long")
	ErrInvalidTitle    = errors.New("category title contains forbidden characters")
	ErrCommentTooLong  = errors.New("comment too long")
	ErrInvalidComment  = errors.New("comment contains forbidden characters")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrInvalidOffset   = errors.New("utc offset out of range")
)

var forbiddenChars = regexp.MustCompile(`[:;"'\\<>]`)

// ValidateTitle checks a category title the way the bot front-end does.
func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if forbiddenChars.MatchString(title) {
		return ErrInvalidTitle
	}
	if len([]rune(title)) > MaxTitleLength {
		return ErrTitleTooLong
	}
	return nil
}

func ValidateComment(comment string) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil
	}
	if forbiddenChars.MatchString(comment) {
		return ErrInvalidComment
	}
	if len([]rune(comment)) > MaxCommentLength {
		return ErrCommentTooLong
	}
	return nil
}

// NormalizeCurrency upper-cases a code and checks it is three letters.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}

func (t Tenant) Validate() error {
	if t.ID == 0 {
		return errors.New("tenant id cannot be zero")
	}
	return t.Offset.Validate()
}

// LocalNow returns the tenant's wall clock for the given instant.
func (t Tenant) LocalNow(now time.Time) time.Time {
	return t.Offset.Local(now)
}
