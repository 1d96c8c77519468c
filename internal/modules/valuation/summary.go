package valuation

import (
	"math"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a valuation series.
type Summary struct {
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
	BaseCurrency      string          `json:"base_currency"`
	FirstValue        decimal.Decimal `json:"first_value"`
	LastValue         decimal.Decimal `json:"last_value"`
	NetFlows          decimal.Decimal `json:"net_flows"`
	MarketGain        decimal.Decimal `json:"market_gain"`
	MeanDailyReturn   float64         `json:"mean_daily_return"`
	StdDevDailyReturn float64         `json:"stddev_daily_return"`
	MaxDrawdown       float64         `json:"max_drawdown"`
	Days              int             `json:"days"`
	DegradedDays      int             `json:"degraded_days"`
}

// Summarize computes summary statistics over rows, which must be ordered by
// date. Daily returns exclude cash flows: a day's return is its market gain
// over the previous day's total. Days following a zero total are skipped.
// Max drawdown is measured on the compounded return index.
func Summarize(rows []domain.DailyChange) Summary {
	var s Summary
	if len(rows) == 0 {
		return s
	}
	s.Days = len(rows)
	s.From = rows[0].Key.Day()
	s.To = rows[len(rows)-1].Key.Day()
	s.BaseCurrency = rows[0].BaseCurrency
	s.FirstValue = rows[0].TotalValue
	s.LastValue = rows[len(rows)-1].TotalValue

	returns := make([]float64, 0, len(rows))
	index, peak := 1.0, 1.0
	for i, row := range rows {
		s.NetFlows = s.NetFlows.Add(row.NetFlow)
		s.MarketGain = s.MarketGain.Add(row.MarketGain)
		if row.Degraded {
			s.DegradedDays++
		}
		if i == 0 || !rows[i-1].TotalValue.IsPositive() {
			continue
		}
		ret := row.MarketGain.Div(rows[i-1].TotalValue).InexactFloat64()
		returns = append(returns, ret)

		index *= 1 + ret
		peak = math.Max(peak, index)
		if dd := 1 - index/peak; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}

	switch len(returns) {
	case 0:
	case 1:
		s.MeanDailyReturn = returns[0]
	default:
		s.MeanDailyReturn, s.StdDevDailyReturn = stat.MeanStdDev(returns, nil)
	}
	return s
}
