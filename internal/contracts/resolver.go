// Package contracts resolves the tradable symbols and tokens for the strike the
// engine tracks.
package contracts

import (
	"errors"
	"time"

	"scalpflow/internal/models"
)

// ErrNotFound is returned when no listed contract matches a request.
var ErrNotFound = errors.New("contract not found")

// Resolver maps a strike and leg to a tradable contract.
type Resolver interface {
	ResolveOption(strike int, kind models.OptionKind, at time.Time) (models.Contract, error)
	ResolveFuture(at time.Time) (models.Contract, error)
}

// NamingResolver derives contracts from the naming convention alone. Tokens
// equal symbols, which is what the simulator feeds.
type NamingResolver struct {
	underlying string
	exchange   string
	calendar   *Calendar
}

func NewNamingResolver(underlying, exchange string, cal *Calendar) *NamingResolver {
	return &NamingResolver{underlying: underlying, exchange: exchange, calendar: cal}
}

func (r *NamingResolver) ResolveOption(strike int, kind models.OptionKind, at time.Time) (models.Contract, error) {
	if strike <= 0 {
		return models.Contract{}, ErrNotFound
	}
	expiry := r.calendar.WeeklyExpiry(at)
	symbol := OptionSymbol(r.underlying, expiry, strike, kind)
	return models.Contract{
		Symbol:   symbol,
		Token:    symbol,
		Exchange: r.exchange,
		Strike:   strike,
		Option:   kind,
		Expiry:   expiry,
	}, nil
}

func (r *NamingResolver) ResolveFuture(at time.Time) (models.Contract, error) {
	expiry := r.calendar.MonthlyExpiry(at)
	symbol := FutureSymbol(r.underlying, expiry)
	return models.Contract{Symbol: symbol, Token: symbol, Exchange: r.exchange, Expiry: expiry}, nil
}
