package valuation

import (
	"testing"

	"github.com/aristath/folio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(date, total, delta, flow string, degraded bool) domain.DailyChange {
	d := domain.DailyChange{
		Key:          domain.DailyChangeKey{PortfolioID: 1, Date: date},
		BaseCurrency: "EUR",
		TotalValue:   Dec(total),
		Delta:        Dec(delta),
		NetFlow:      Dec(flow),
		Degraded:     degraded,
	}
	d.MarketGain = d.Delta.Sub(d.NetFlow)
	return d
}

func TestSummarize(t *testing.T) {
	rows := []domain.DailyChange{
		row("2024-01-01", "1000", "1000", "1000", false),
		row("2024-01-02", "1100", "100", "0", false),
		row("2024-01-03", "990", "-110", "0", true),
		row("2024-01-04", "1490", "500", "500", false),
	}

	s := Summarize(rows)
	assert.Equal(t, 4, s.Days)
	assert.Equal(t, 1, s.DegradedDays)
	assert.Equal(t, D("2024-01-01"), s.From)
	assert.Equal(t, D("2024-01-04"), s.To)
	assert.True(t, Dec("1490").Equal(s.LastValue))
	assert.True(t, Dec("1500").Equal(s.NetFlows))
	assert.True(t, Dec("-10").Equal(s.MarketGain))

	// Returns: +10%, -10%, 0%
	assert.InDelta(t, 0.0, s.MeanDailyReturn, 1e-9)
	assert.InDelta(t, 0.1, s.StdDevDailyReturn, 1e-9)
	assert.InDelta(t, 0.1, s.MaxDrawdown, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Days)
	assert.True(t, s.LastValue.IsZero())
}

func TestContributionsCodec(t *testing.T) {
	in := []domain.Contribution{{
		Symbol:    "VOD.L",
		Currency:  "GBP",
		PriceDate: "2024-01-05",
		FXDate:    "2024-01-05",
		Reason:    ReasonFXFallback,
		Quantity:  Dec("100"),
		Price:     Dec("70.55"),
		FXRate:    Dec("1.1612345"),
		Value:     Dec("8192.39"),
		Degraded:  true,
	}}
	b, err := encodeContributions(in)
	require.NoError(t, err)
	out, err := decodeContributions(b)
	require.NoError(t, err)
	require.Len(t, out, 1)
	a := domain.DailyChange{Contributions: in}
	assert.True(t, a.Equal(domain.DailyChange{Contributions: out}))

	empty, err := encodeContributions(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
