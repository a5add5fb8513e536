// Package growth estimates storage growth from usage samples.
package growth

import (
	"math"
	"time"
)

// Sample is one observation of used bytes.
type Sample struct {
	Used int64
	At   time.Time
}

// Result holds the derived growth fields. Both are nil when there is not
// enough history.
type Result struct {
	// GrowthRate is bytes per day.
	GrowthRate *float64
	// DaysTillFull is -1 when usage is flat or shrinking, or when the
	// capacity is already exceeded.
	DaysTillFull *int64
}

// Estimate derives the growth rate and days until full from samples.
//
// The oldest and newest samples by time bound the window; the day span is
// the UTC calendar-day difference between them, at least 1. A capacity of
// zero or less yields DaysTillFull -1.
func Estimate(samples []Sample, capacity int64) Result {
	if len(samples) < 2 {
		return Result{}
	}

	oldest, newest := samples[0], samples[0]
	for _, s := range samples[1:] {
		if s.At.Before(oldest.At) {
			oldest = s
		}
		if !s.At.Before(newest.At) {
			newest = s
		}
	}

	diffDays := max(calendarDays(oldest.At, newest.At), 1)
	usedGrowth := float64(newest.Used - oldest.Used)

	rate := usedGrowth / float64(diffDays)
	days := int64(-1)
	if remaining := capacity - newest.Used; usedGrowth > 0 && capacity > 0 && remaining >= 0 {
		days = int64(math.RoundToEven(float64(remaining) * float64(diffDays) / usedGrowth))
	}

	return Result{GrowthRate: &rate, DaysTillFull: &days}
}

// calendarDays counts UTC midnights crossed going from a to b.
func calendarDays(a, b time.Time) int {
	da := time.Date(a.UTC().Year(), a.UTC().Month(), a.UTC().Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
