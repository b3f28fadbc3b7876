package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run statuses of the job ledger.
const (
	RunRunning    = "running"
	RunCommitted  = "committed"
	RunFailed     = "failed"
	RunSuperseded = "superseded"
)

// SnapshotLevelRow is one retained book level of one snapshot.
type SnapshotLevelRow struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID     string          `gorm:"size:36;index" json:"run_id"`
	Symbol    string          `gorm:"size:32;index:idx_levels_symbol_date,priority:1" json:"symbol"`
	TradeDate string          `gorm:"size:8;index:idx_levels_symbol_date,priority:2" json:"trade_date"`
	Ts        int64           `gorm:"index" json:"timestamp"`
	Side      string          `gorm:"size:4" json:"side"`
	Level     int             `json:"level"`
	Price     decimal.Decimal `gorm:"type:decimal(20,6)" json:"price"`
	Volume    int64           `json:"volume"`
}

func (SnapshotLevelRow) TableName() string { return "snapshot_levels" }

// JobRun is the ledger entry of one symbol-day run. Rows of a run are only
// read once its status is committed.
type JobRun struct {
	RunID      string     `gorm:"primaryKey;size:36" json:"run_id"`
	Symbol     string     `gorm:"size:32;index:idx_runs_symbol_date,priority:1" json:"symbol"`
	TradeDate  string     `gorm:"size:8;index:idx_runs_symbol_date,priority:2" json:"trade_date"`
	Status     string     `gorm:"size:16;index" json:"status"`
	Snapshots  int64      `json:"snapshots"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

func (JobRun) TableName() string { return "job_runs" }
