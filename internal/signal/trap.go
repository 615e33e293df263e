package signal

import (
	"scalpflow/config"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

// TrapFilter flags directional sentiment that open interest contradicts.
type TrapFilter struct {
	low     float64
	high    float64
	neutral float64
}

func NewTrapFilter(cfg config.TrapConfig) *TrapFilter {
	return &TrapFilter{low: cfg.Low, high: cfg.High, neutral: cfg.NeutralPCR}
}

// PCR returns the ratio to judge with, substituting the neutral ratio when
// none has been observed.
func (f *TrapFilter) PCR(pcr series.Optional[float64]) float64 {
	return pcr.Or(f.neutral)
}

func (f *TrapFilter) Evaluate(sentiment models.Sentiment, pcr series.Optional[float64]) models.TrapVerdict {
	ratio := f.PCR(pcr)
	switch {
	case sentiment == models.Bullish && ratio < f.low:
		return models.BullTrap
	case sentiment == models.Bearish && ratio > f.high:
		return models.BearTrap
	default:
		return models.NoTrap
	}
}
