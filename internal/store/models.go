package store

import (
	"time"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

const dateLayout = "2006-01-02"

// HourlyStat is one aggregation bucket: the counts recorded for an arm
// of an experiment during one UTC hour.
type HourlyStat struct {
	ExperimentID string
	Arm          experiment.Arm
	Date         time.Time // midnight UTC
	Hour         int
	Participants int64
	Conversions  int64
}

type Totals struct {
	Participants int64 `json:"participants"`
	Conversions  int64 `json:"conversions"`
}

func (t Totals) Add(o Totals) Totals {
	return Totals{Participants: t.Participants + o.Participants, Conversions: t.Conversions + o.Conversions}
}

// StatsFilter narrows Totals. Zero values mean "no restriction"; From
// and To are inclusive calendar dates in UTC.
type StatsFilter struct {
	Arm  *experiment.Arm
	From time.Time
	To   time.Time
}

// DailyPoint is one day of the cumulative conversion series.
type DailyPoint struct {
	Date               time.Time `json:"date"`
	ControlConversions int64     `json:"control_conversions"`
	VariantConversions int64     `json:"variant_conversions"`
}

// UpsertMode selects how RecordEvent increments a bucket.
type UpsertMode string

const (
	// UpsertAtomic uses a single INSERT ... ON CONFLICT DO UPDATE.
	UpsertAtomic UpsertMode = "atomic"
	// UpsertFallback updates in place, inserts when the bucket is missing,
	// and retries when a concurrent insert wins the unique key.
	UpsertFallback UpsertMode = "fallback"
)
