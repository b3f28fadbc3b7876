package domain

// RunMode is the closed set of ways a job can be driven.
// Each variant carries only the fields it needs.
type RunMode interface {
	runMode()
	Name() string
}

// InputFormat selects how offline inputs are read.
type InputFormat string

const (
	FormatRawCSV  InputFormat = "raw_csv"
	FormatParquet InputFormat = "parquet"
)

// OfflineMode reconstructs independent symbol-day books from files.
type OfflineMode struct {
	Exchange  string
	TradeDate string // YYYYMMDD
	Symbols   []string
	InputDir  string
	Format    InputFormat
}

// ReplayMode merges several symbols into one globally ordered feed.
type ReplayMode struct {
	Exchange   string
	TradeDate  string
	Symbols    []string
	InputDir   string
	Format     InputFormat
	OutputPath string // merged Parquet feed; empty disables
	Drive      bool   // also drive one multi-symbol sequencer
}

// RealtimeMode consumes raw rows from a live WebSocket feed.
type RealtimeMode struct {
	Exchange  string
	TradeDate string
	URL       string
	Symbols   []string
	InboxSize int
}

func (OfflineMode) runMode()  {}
func (ReplayMode) runMode()   {}
func (RealtimeMode) runMode() {}

func (OfflineMode) Name() string  { return "offline" }
func (ReplayMode) Name() string   { return "replay" }
func (RealtimeMode) Name() string { return "realtime" }
