package main

import "time"

// ClientFlags Flag structs to decouple cobra from logic for testing.
// Every client command talks to a running daemon over its control API.
type ClientFlags struct {
	APIUrl     string
	APIToken   string
	APITimeout time.Duration
}

type HistoryFlags struct {
	ClientFlags
	Limit int
}

type ExportFlags struct {
	ClientFlags
	Output string
}

type ResourcesFlags struct {
	ClientFlags
	History bool
}
