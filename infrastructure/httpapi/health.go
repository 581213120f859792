package httpapi

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dotmac/ispsaga/infrastructure/middleware"
)

// NewHealthChecker builds the middleware.HealthChecker used for /healthz,
// registering process/host checks sourced from gopsutil alongside the
// store ping passed in by the caller.
func NewHealthChecker(version string, pingStore func() error) *middleware.HealthChecker {
	hc := middleware.NewHealthChecker(version)
	hc.RegisterCheck("database", pingStore)
	hc.RegisterCheck("memory", checkMemory)
	hc.RegisterCheck("load", checkLoad)
	return hc
}

// checkMemory fails the health check once the host's used virtual memory
// crosses 90%. It only reports; nothing throttles saga starts on it.
func checkMemory() error {
	v, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("read memory stats: %w", err)
	}
	if v.UsedPercent > 90 {
		return fmt.Errorf("memory usage at %.1f%%", v.UsedPercent)
	}
	return nil
}

func checkLoad() error {
	avg, err := load.Avg()
	if err != nil {
		return fmt.Errorf("read load average: %w", err)
	}
	if avg.Load1 > float64(32) {
		return fmt.Errorf("1m load average at %.2f", avg.Load1)
	}
	return nil
}
