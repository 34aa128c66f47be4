package actions

import (
	"os"

	"github.com/shirou/gopsutil/process"
)

// StatsFunc reports resident memory in bytes and CPU usage in percent.
type StatsFunc func() (rss uint64, cpu float64, err error)

// SelfStats reads the stats of the current process.
func SelfStats() (uint64, float64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, 0, err
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpu, nil
}
