package sync

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for run dates.
const DateLayout = "2006-01-02"

// DefaultRunDate returns yesterday's date in UTC, the default target of the
// daily sync cadence.
func DefaultRunDate() string {
	return time.Now().UTC().AddDate(0, 0, -1).Format(DateLayout)
}

// ValidateRunDate checks that a run date is a well-formed calendar date.
func ValidateRunDate(runDate string) error {
	if _, err := time.Parse(DateLayout, runDate); err != nil {
		return fmt.Errorf("invalid run date %q (want YYYY-MM-DD): %w", runDate, err)
	}
	return nil
}

// Plan is the batch partitioning of one sync run. It is fully determined by
// (runDate, totalTenants, batchSize), so any worker can reconstruct it from a
// task payload without shared state.
type Plan struct {
	RunDate      string
	TotalTenants int
	BatchSize    int
	TotalBatches int
}

// BatchSlice is the contiguous tenant range owned by one batch.
type BatchSlice struct {
	Number int
	Offset int
	Length int
}

// NewPlan computes the batch plan for a run.
func NewPlan(runDate string, totalTenants, batchSize int) Plan {
	if batchSize <= 0 {
		batchSize = 1
	}
	if totalTenants < 0 {
		totalTenants = 0
	}
	return Plan{
		RunDate:      runDate,
		TotalTenants: totalTenants,
		BatchSize:    batchSize,
		TotalBatches: (totalTenants + batchSize - 1) / batchSize,
	}
}

// Slice returns the tenant range owned by the given batch number. The final
// batch is clamped to the remaining tenants; a batch number beyond the plan
// yields an empty slice.
func (p Plan) Slice(batchNumber int) BatchSlice {
	offset := batchNumber * p.BatchSize
	length := p.BatchSize
	if offset >= p.TotalTenants {
		length = 0
	} else if offset+length > p.TotalTenants {
		length = p.TotalTenants - offset
	}
	return BatchSlice{
		Number: batchNumber,
		Offset: offset,
		Length: length,
	}
}

// Slices returns every batch slice of the plan in order.
func (p Plan) Slices() []BatchSlice {
	slices := make([]BatchSlice, p.TotalBatches)
	for n := range slices {
		slices[n] = p.Slice(n)
	}
	return slices
}
