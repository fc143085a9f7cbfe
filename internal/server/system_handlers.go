package server

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/alimogh/trdk/internal/version"
)

// handleSystemStatus serves GET /api/system/status: connection state and
// cash balance, process uptime, host resource usage and archive database
// statistics.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := s.systemStats()

	status := map[string]interface{}{
		"version":        version.Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
	}

	if s.engine != nil {
		if snap, err := s.engine.Account(); err != nil {
			status["connected"] = false
			s.log.Warn().Err(err).Msg("Account snapshot unavailable")
		} else {
			status["connected"] = s.engine.Started()
			status["cash"] = snap.CashBalance
			status["excess_liquidity"] = snap.ExcessLiquidity
		}
	}

	if s.db != nil {
		if usage, err := disk.Usage(filepath.Dir(s.db.Path())); err == nil {
			status["disk_percent"] = usage.UsedPercent
		}
		if stats, err := s.db.GetStats(); err == nil {
			status["archive_db"] = map[string]interface{}{
				"size_bytes": stats.SizeBytes,
				"wal_bytes":  stats.WALSizeBytes,
				"page_count": stats.PageCount,
			}
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}

// systemStats samples CPU and RAM usage. The CPU sample uses a short
// interval so the dashboard poll stays fast.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
