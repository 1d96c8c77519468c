package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/work"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves process and storage health.
type SystemHandlers struct {
	log       zerolog.Logger
	databases []*database.DB
	work      WorkStats
	startedAt time.Time
	// stats is swapped out in tests; sampling the CPU blocks for 100ms.
	stats func() (float64, float64)
}

// DatabaseHealth is the health of one database.
type DatabaseHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /api/system/health
type HealthResponse struct {
	Status        string           `json:"status"`
	Databases     []DatabaseHealth `json:"databases"`
	Work          *work.Stats      `json:"work,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
}

// DatabaseStats is one entry of GET /api/system/databases
type DatabaseStats struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistCount int64   `json:"freelist_count"`
	SchemaVersion int     `json:"schema_version"`
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(log zerolog.Logger, databases []*database.DB, workStats WorkStats) *SystemHandlers {
	h := &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		databases: databases,
		work:      workStats,
		startedAt: time.Now(),
	}
	h.stats = h.getSystemStats
	return h
}

// HandleHealth handles GET /api/system/health. It answers 503 when any
// database fails its health check.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		Databases:     make([]DatabaseHealth, 0, len(h.databases)),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	for _, db := range h.databases {
		dh := DatabaseHealth{Name: db.Name(), Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			dh.Healthy = false
			dh.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Databases = append(resp.Databases, dh)
	}
	if h.work != nil {
		stats := h.work.Stats()
		resp.Work = &stats
	}
	resp.CPUPercent, resp.MemoryPercent = h.stats()

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// HandleDatabaseStats handles GET /api/system/databases
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	out := make([]DatabaseStats, 0, len(h.databases))
	for _, db := range h.databases {
		st, err := db.GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			http.Error(w, "Failed to get database stats", http.StatusInternalServerError)
			return
		}
		out = append(out, DatabaseStats{
			Name:          db.Name(),
			Path:          db.Path(),
			SizeMB:        float64(st.SizeBytes) / 1024 / 1024,
			WALSizeMB:     float64(st.WALSizeBytes) / 1024 / 1024,
			PageCount:     st.PageCount,
			FreelistCount: st.FreelistCount,
			SchemaVersion: st.SchemaVersion,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// getSystemStats returns CPU and RAM usage percentages. CPU is sampled over
// 100ms so the health endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
