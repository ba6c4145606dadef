// Package metrics collects process and storage diagnostics for the health
// endpoint.
package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Diagnostics is a point-in-time view of the daemon and its data files.
type Diagnostics struct {
	Process ProcessMetrics `json:"process"`
	Host    HostMetrics    `json:"host"`
	Store   StoreMetrics   `json:"store"`
}

// ProcessMetrics describes the running daemon.
type ProcessMetrics struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSS        uint64  `json:"rss"`
	Goroutines int     `json:"goroutines"`
	HeapAlloc  uint64  `json:"heap_alloc"`
	Uptime     int64   `json:"uptime"` // seconds
}

// HostMetrics is a short summary of the machine.
type HostMetrics struct {
	MemoryTotal       uint64    `json:"memory_total"`
	MemoryUsedPercent float64   `json:"memory_used_percent"`
	LoadAvg           []float64 `json:"load_avg,omitempty"` // 1, 5, 15 min
	Uptime            uint64    `json:"uptime"`
}

// StoreMetrics describes the encrypted files on disk.
type StoreMetrics struct {
	DatabasePath    string     `json:"database_path"`
	DatabaseBytes   int64      `json:"database_bytes"`
	LastPersisted   *time.Time `json:"last_persisted,omitempty"`
	PayloadDir      string     `json:"payload_dir"`
	PayloadFiles    int        `json:"payload_files"`
	PayloadBytes    int64      `json:"payload_bytes"`
	DiskFree        uint64     `json:"disk_free"`
	DiskUsedPercent float64    `json:"disk_used_percent"`
}

// Paths locates the data files to inspect. Empty paths are skipped.
type Paths struct {
	Database   string
	PayloadDir string
}

var startedAt = time.Now()

// Collect gathers diagnostics in parallel. Individual probes that fail are
// left zero; only cancellation is reported as an error.
func Collect(ctx context.Context, paths Paths) (*Diagnostics, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	d := &Diagnostics{}
	var wg sync.WaitGroup
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		pm := collectProcess(ctx)
		mu.Lock()
		d.Process = pm
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hm := collectHost(ctx)
		mu.Lock()
		d.Host = hm
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sm := collectStore(ctx, paths)
		mu.Lock()
		d.Store = sm
		mu.Unlock()
	}()

	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return d, nil
}

func collectProcess(ctx context.Context) ProcessMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	pm := ProcessMetrics{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		Uptime:     int64(time.Since(startedAt).Seconds()),
	}

	proc, err := process.NewProcessWithContext(ctx, pm.PID)
	if err != nil {
		return pm
	}
	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		pm.CPUPercent = pct
	}
	if info, err := proc.MemoryInfoWithContext(ctx); err == nil && info != nil {
		pm.RSS = info.RSS
	}
	return pm
}

func collectHost(ctx context.Context) HostMetrics {
	var hm HostMetrics
	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hm.MemoryTotal = vmem.Total
		hm.MemoryUsedPercent = vmem.UsedPercent
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		hm.Uptime = uptime
	}
	// Not available on every platform.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		hm.LoadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	return hm
}

func collectStore(ctx context.Context, paths Paths) StoreMetrics {
	sm := StoreMetrics{
		DatabasePath: paths.Database,
		PayloadDir:   paths.PayloadDir,
	}

	if paths.Database != "" {
		if info, err := os.Stat(paths.Database); err == nil {
			sm.DatabaseBytes = info.Size()
			mod := info.ModTime()
			sm.LastPersisted = &mod
		}
	}

	if paths.PayloadDir != "" {
		files, bytes, err := dirUsage(paths.PayloadDir)
		if err == nil {
			sm.PayloadFiles = files
			sm.PayloadBytes = bytes
		}
	}

	if dir := dataDir(paths); dir != "" {
		if usage, err := disk.UsageWithContext(ctx, dir); err == nil {
			sm.DiskFree = usage.Free
			sm.DiskUsedPercent = usage.UsedPercent
		}
	}
	return sm
}

func dirUsage(dir string) (int, int64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	var files int
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files++
		total += info.Size()
	}
	return files, total, nil
}

func dataDir(paths Paths) string {
	switch {
	case paths.Database != "":
		return filepath.Dir(paths.Database)
	case paths.PayloadDir != "":
		return paths.PayloadDir
	}
	return ""
}
