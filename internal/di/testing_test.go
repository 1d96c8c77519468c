package di

import (
	"testing"
	"time"

	"github.com/aristath/folio/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:      t.TempDir(),
		LogLevel:     "error",
		Port:         8001,
		BaseCurrency: "EUR",
		Providers: config.ProvidersConfig{
			Order:            config.KnownProviders,
			Timeout:          time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  time.Minute,
		},
		Engine: config.EngineConfig{
			QuoteFreshness:    15 * time.Minute,
			FXLookbackDays:    7,
			PriceLookbackDays: 7,
			RebuildBatchDays:  31,
			RefreshRecentDays: 7,
		},
		Work: config.WorkConfig{
			Workers:      2,
			Timeout:      time.Minute,
			MaxRetries:   3,
			RetryBackoff: time.Second,
		},
		Schedule: config.ScheduleConfig{
			Refresh:           "0 30 22 * * *",
			RefreshTimeout:    time.Minute,
			RefreshParallel:   2,
			ClientDataCleanup: "0 0 3 * * *",
			WALCheckpoint:     "0 0 */6 * * *",
		},
	}
}
