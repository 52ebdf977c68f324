package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is stamped at build time via -ldflags
var Version = "dev"

// SystemStatusResponse is the monitoring snapshot for the dashboard
type SystemStatusResponse struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemUsedMB      float64 `json:"mem_used_mb"`
	DiskUsedMB     float64 `json:"disk_used_mb"`
	DiskFreeMB     float64 `json:"disk_free_mb"`
	UptimeHours    float64 `json:"uptime_hours"`
	SecurityCount  int     `json:"security_count"`
	ActiveCount    int     `json:"active_count"`
	OpenMarkets    int     `json:"open_markets"`
	Time           string  `json:"time"`
}

// handleSystemStatus returns host and application health metrics
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Time: time.Now().UTC().Format(time.RFC3339),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
		resp.MemUsedMB = float64(vm.Used) / 1024 / 1024
	}
	if usage, err := disk.Usage("/"); err == nil {
		resp.DiskUsedMB = float64(usage.Used) / 1024 / 1024
		resp.DiskFreeMB = float64(usage.Free) / 1024 / 1024
	}
	if uptime, err := host.Uptime(); err == nil {
		resp.UptimeHours = float64(uptime) / 3600
	}

	total, active, err := s.deps.Universe.Count()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to count securities for status")
	}
	resp.SecurityCount = total
	resp.ActiveCount = active

	if s.deps.Markets != nil {
		resp.OpenMarkets = s.deps.Markets.OpenMarkets()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleVersion returns the build version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}
