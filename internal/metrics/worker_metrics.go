package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSample holds CPU and memory usage for the worker process at one instant.
type ResourceSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	MemorySwap uint64    `json:"memory_swap,omitempty"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig holds configuration for worker resource sampling.
type ResourceConfig struct {
	Enabled    bool          `toml:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	MaxHistory int           `toml:"max_history" mapstructure:"max_history"`
}

// ResourceCollector manages CPU and memory monitoring for the worker process.
type ResourceCollector struct {
	enabled  bool
	interval time.Duration
	max      int

	mu      sync.RWMutex
	samples []ResourceSample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	workerCPUPercent prometheus.Gauge
	workerMemoryMB   prometheus.Gauge
	workerNumThreads prometheus.Gauge
	workerNumFDs     prometheus.Gauge
}

// NewResourceCollector creates a new worker resource collector.
func NewResourceCollector(config ResourceConfig) *ResourceCollector {
	maxHistory := config.MaxHistory
	if maxHistory == 0 {
		maxHistory = 100 // default
	}

	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second // default
	}

	return &ResourceCollector{
		enabled:  config.Enabled,
		interval: interval,
		max:      maxHistory,
		stopCh:   make(chan struct{}),
		workerCPUPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "engramd",
				Subsystem: "worker",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the worker process.",
			},
		),
		workerMemoryMB: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "engramd",
				Subsystem: "worker",
				Name:      "memory_mb",
				Help:      "Memory usage in MB of the worker process.",
			},
		),
		workerNumThreads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "engramd",
				Subsystem: "worker",
				Name:      "num_threads",
				Help:      "Number of threads of the worker process.",
			},
		),
		workerNumFDs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "engramd",
				Subsystem: "worker",
				Name:      "num_fds",
				Help:      "Number of file descriptors of the worker process (Unix only).",
			},
		),
	}
}

// RegisterMetrics registers the resource gauges with the provided registerer.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}

	collectors := []prometheus.Collector{
		c.workerCPUPercent,
		c.workerMemoryMB,
		c.workerNumThreads,
	}

	// Only register FD metrics on Unix systems
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.workerNumFDs)
	}

	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			// Ignore already registered errors
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}

	return nil
}

// RegisterMetricsDefault registers the resource gauges with the default
// Prometheus registerer.
func (c *ResourceCollector) RegisterMetricsDefault() error {
	return c.RegisterMetrics(prometheus.DefaultRegisterer)
}

// Start begins periodic sampling. getPID reports the current worker PID,
// or 0 when no worker is running.
func (c *ResourceCollector) Start(ctx context.Context, getPID func() int) error {
	if !c.enabled {
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(int32(getPID()))
			}
		}
	}()

	return nil
}

// Stop stops the sampling loop.
func (c *ResourceCollector) Stop() {
	if !c.enabled {
		return
	}

	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *ResourceCollector) collect(pid int32) {
	if pid <= 0 {
		c.clearGauges()
		return
	}

	sample, err := sampleProcess(pid, time.Now())
	if err != nil {
		slog.Debug("Failed to collect worker resource metrics", "pid", pid, "error", err)
		c.clearGauges()
		return
	}

	c.workerCPUPercent.Set(sample.CPUPercent)
	c.workerMemoryMB.Set(sample.MemoryMB)
	c.workerNumThreads.Set(float64(sample.NumThreads))
	if runtime.GOOS != "windows" && sample.NumFDs > 0 {
		c.workerNumFDs.Set(float64(sample.NumFDs))
	}

	c.mu.Lock()
	if len(c.samples) == c.max {
		copy(c.samples, c.samples[1:])
		c.samples = c.samples[:len(c.samples)-1]
	}
	c.samples = append(c.samples, *sample)
	c.mu.Unlock()
}

func (c *ResourceCollector) clearGauges() {
	c.workerCPUPercent.Set(0)
	c.workerMemoryMB.Set(0)
	c.workerNumThreads.Set(0)
	if runtime.GOOS != "windows" {
		c.workerNumFDs.Set(0)
	}
}

// sampleProcess retrieves CPU and memory metrics for a single process.
func sampleProcess(pid int32, timestamp time.Time) (*ResourceSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}

	// CPU percentage may require a previous call for accurate calculation
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}

	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("Failed to get thread count", "pid", pid, "error", err)
		numThreads = 0
	}

	sample := &ResourceSample{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		Timestamp:  timestamp,
		NumThreads: numThreads,
	}

	if memInfo.Swap > 0 {
		sample.MemorySwap = memInfo.Swap
	}

	// File descriptor count (Unix only)
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			sample.NumFDs = numFDs
		}
	}

	return sample, nil
}

// Latest returns the most recent sample, if any was collected.
func (c *ResourceCollector) Latest() (ResourceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.samples) == 0 {
		return ResourceSample{}, false
	}
	return c.samples[len(c.samples)-1], true
}

// History returns retained samples in chronological order.
func (c *ResourceCollector) History() []ResourceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResourceSample, len(c.samples))
	copy(out, c.samples)
	return out
}
