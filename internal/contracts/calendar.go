package contracts

import (
	"fmt"
	"strings"
	"time"

	"scalpflow/config"
	"scalpflow/internal/models"
)

// Calendar computes weekly and monthly expiries. Exchange holidays are not
// modelled; the instrument master is authoritative when it is loaded.
type Calendar struct {
	weekday time.Weekday
	cutoff  time.Duration
	loc     *time.Location
}

func NewCalendar(cfg config.ContractsConfig, timezone string) (*Calendar, error) {
	weekday, err := config.ParseWeekday(cfg.ExpiryWeekday)
	if err != nil {
		return nil, fmt.Errorf("contracts.expiry_weekday: %w", err)
	}
	cutoff, err := config.ParseClock(cfg.ExpiryCutoff)
	if err != nil {
		return nil, fmt.Errorf("contracts.expiry_cutoff: %w", err)
	}
	return &Calendar{weekday: weekday, cutoff: cutoff, loc: config.Location(timezone)}, nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

func (c *Calendar) day(at time.Time) time.Time {
	local := at.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// Expired reports whether a contract expiring on expiry has stopped trading at
// the given instant.
func (c *Calendar) Expired(expiry, at time.Time) bool {
	return !at.Before(c.day(expiry).Add(c.cutoff))
}

// WeeklyExpiry is the next expiry weekday, rolling a week forward once the
// cutoff has passed on expiry day.
func (c *Calendar) WeeklyExpiry(at time.Time) time.Time {
	today := c.day(at)
	days := (int(c.weekday) - int(today.Weekday()) + 7) % 7
	expiry := today.AddDate(0, 0, days)
	if c.Expired(expiry, at) {
		expiry = expiry.AddDate(0, 0, 7)
	}
	return expiry
}

// MonthlyExpiry is the last expiry weekday of the month, or of the next month
// once this month's has passed.
func (c *Calendar) MonthlyExpiry(at time.Time) time.Time {
	today := c.day(at)
	expiry := c.lastWeekday(today.Year(), today.Month())
	if c.Expired(expiry, at) {
		next := today.AddDate(0, 1, 1-today.Day())
		expiry = c.lastWeekday(next.Year(), next.Month())
	}
	return expiry
}

func (c *Calendar) lastWeekday(year int, month time.Month) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, c.loc)
	back := (int(last.Weekday()) - int(c.weekday) + 7) % 7
	return last.AddDate(0, 0, -back)
}

// ExpiryCode renders an expiry as DDMMMYY, e.g. 26DEC24.
func ExpiryCode(expiry time.Time) string {
	return strings.ToUpper(expiry.Format("02Jan06"))
}

func OptionSymbol(underlying string, expiry time.Time, strike int, kind models.OptionKind) string {
	return fmt.Sprintf("%s%s%d%s", underlying, ExpiryCode(expiry), strike, kind)
}

func FutureSymbol(underlying string, expiry time.Time) string {
	return fmt.Sprintf("%s%sFUT", underlying, ExpiryCode(expiry))
}
