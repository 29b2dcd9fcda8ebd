package host

import (
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sys/unix"
)

type Metrics struct {
	Timestamp      int64   `json:"timestamp"`
	CPUCount       uint32  `json:"cpu_count"`
	CPUUsedPercent float32 `json:"cpu_used_pct"`
	MemUsedMiB     uint64  `json:"mem_used_mib"`
	MemTotalMiB    uint64  `json:"mem_total_mib"`
	DiskUsed       uint64  `json:"disk_used"`
	DiskTotal      uint64  `json:"disk_total"`
}

type diskSpace struct {
	Total     uint64
	Available uint64
}

// GetMetrics samples the sandbox host: memory, CPU and root filesystem usage.
func GetMetrics() (*Metrics, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	cpuTotal, err := cpu.Counts(true)
	if err != nil {
		return nil, err
	}

	cpuUsedPcts, err := cpu.Percent(0, false)
	if err != nil {
		return nil, err
	}
	cpuUsedPct := cpuUsedPcts[0]
	cpuUsedPctRounded := float32(cpuUsedPct)
	if cpuUsedPct > 0 {
		cpuUsedPctRounded = float32(math.Round(cpuUsedPct*100) / 100)
	}

	diskMetrics, err := diskStats("/")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Timestamp:      time.Now().UTC().Unix(),
		CPUCount:       uint32(cpuTotal),
		CPUUsedPercent: cpuUsedPctRounded,
		MemUsedMiB:     v.Used / 1024 / 1024,
		MemTotalMiB:    v.Total / 1024 / 1024,
		DiskUsed:       diskMetrics.Total - diskMetrics.Available,
		DiskTotal:      diskMetrics.Total,
	}, nil
}

func diskStats(path string) (diskSpace, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return diskSpace{}, err
	}
	block := uint64(st.Bsize)
	return diskSpace{
		Total:     st.Blocks * block,
		Available: st.Bavail * block,
	}, nil
}
