package client

import "time"

// Status is the daemon's merged view of the worker: supervisor lifecycle
// fields plus, when the worker answers its probe, the worker's own report.
type Status struct {
	Running  bool    `json:"running"`
	Status   string  `json:"status"`
	PID      int     `json:"pid,omitempty"`
	Port     int     `json:"port"`
	Restarts int     `json:"restarts"`
	Memories uint64  `json:"memory_count"`
	Uptime   *uint64 `json:"uptime,omitempty"`
	Version  string  `json:"version"`
}

// Event is one worker lifecycle transition from the daemon's journal.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Restarts   int       `json:"restarts"`
	Detail     string    `json:"detail,omitempty"`
}

// ResourceSample holds the worker's CPU and memory usage at one instant.
type ResourceSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	MemorySwap uint64    `json:"memory_swap,omitempty"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Resources is the daemon's resource usage answer. Current is nil when no
// sample has been taken yet.
type Resources struct {
	Current *ResourceSample  `json:"current"`
	History []ResourceSample `json:"history,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
