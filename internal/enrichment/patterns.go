package enrichment

import (
	"fmt"
	"math"
	"slices"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

const (
	hour = 3600
	day  = 24 * hour

	// regularSpread is the largest interval deviation, relative to the mean, still called regular.
	regularSpread = 0.3
	dormancyMin   = 30 * day
	peakRadius    = 4
)

// Pattern types reported by TemporalPatterns.
const (
	PatternRegularInterval = "regular_interval"
	PatternBurstActivity   = "burst_activity"
	PatternDormantActive   = "dormant_then_active"
	PatternTimezone        = "timezone_indicator"
)

// TemporalPatterns looks for timing regularities in transaction times given
// as Unix seconds in any order. Unset times are ignored. Interval and
// time-of-day patterns need at least minTx timestamps.
func TemporalPatterns(times []int64, minTx int) []schemas.TemporalPattern {
	ts := slices.DeleteFunc(slices.Clone(times), func(t int64) bool { return t <= 0 })
	if len(ts) < 2 {
		return nil
	}
	slices.Sort(ts)

	var out []schemas.TemporalPattern
	if len(ts) >= minTx {
		intervals := make([]int64, len(ts)-1)
		for i := range intervals {
			intervals[i] = ts[i+1] - ts[i]
		}
		if p, ok := regularInterval(intervals); ok {
			out = append(out, p)
		}
		if p, ok := burstActivity(intervals); ok {
			out = append(out, p)
		}
		if p, ok := timezone(ts); ok {
			out = append(out, p)
		}
	}
	if p, ok := dormancy(ts); ok {
		out = append(out, p)
	}
	return out
}

func regularInterval(intervals []int64) (schemas.TemporalPattern, bool) {
	var sum int64
	for _, iv := range intervals {
		sum += iv
	}
	avg := sum / int64(len(intervals))
	if avg <= 0 {
		return schemas.TemporalPattern{}, false
	}
	var variance float64
	for _, iv := range intervals {
		d := float64(iv - avg)
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(intervals)))
	if stdDev >= float64(avg)*regularSpread {
		return schemas.TemporalPattern{}, false
	}
	return schemas.TemporalPattern{
		Type:        PatternRegularInterval,
		Description: "Transactions occur at regular intervals of " + describeInterval(avg),
		Confidence:  1 - math.Min(stdDev/float64(avg), 1),
		Evidence: []string{
			fmt.Sprintf("Average interval: %d seconds", avg),
			fmt.Sprintf("Standard deviation: %.0f seconds", stdDev),
		},
	}, true
}

func describeInterval(secs int64) string {
	switch {
	case secs < hour:
		return fmt.Sprintf("~%d minutes", secs/60)
	case secs < day:
		return fmt.Sprintf("~%d hours", secs/hour)
	default:
		return fmt.Sprintf("~%d days", secs/day)
	}
}

func burstActivity(intervals []int64) (schemas.TemporalPattern, bool) {
	short := 0
	for _, iv := range intervals {
		if iv < hour {
			short++
		}
	}
	if short <= len(intervals)/2 {
		return schemas.TemporalPattern{}, false
	}
	return schemas.TemporalPattern{
		Type:        PatternBurstActivity,
		Description: "Multiple transactions within short time periods",
		Confidence:  float64(short) / float64(len(intervals)),
		Evidence:    []string{fmt.Sprintf("%d of %d transactions within 1 hour of each other", short, len(intervals))},
	}, true
}

// timezone reports activity clustered around one UTC hour, a hint at the operator's working day.
func timezone(ts []int64) (schemas.TemporalPattern, bool) {
	var counts [24]int
	for _, t := range ts {
		counts[(t%day)/hour]++
	}
	peak := 0
	for h, c := range counts {
		if c > counts[peak] {
			peak = h
		}
	}
	near := 0
	for h, c := range counts {
		d := h - peak
		if d < 0 {
			d = -d
		}
		if min(d, 24-d) <= peakRadius {
			near += c
		}
	}
	if near*3 <= len(ts)*2 {
		return schemas.TemporalPattern{}, false
	}
	return schemas.TemporalPattern{
		Type:        PatternTimezone,
		Description: fmt.Sprintf("Activity concentrated around %d:00 UTC (possible operator timezone)", peak),
		Confidence:  float64(near) / float64(len(ts)),
		Evidence: []string{
			fmt.Sprintf("Peak activity hour: %d:00 UTC", peak),
			fmt.Sprintf("%d%% of transactions within 4 hours of peak", near*100/len(ts)),
		},
	}, true
}

func dormancy(ts []int64) (schemas.TemporalPattern, bool) {
	lifespan := ts[len(ts)-1] - ts[0]
	if lifespan <= dormancyMin {
		return schemas.TemporalPattern{}, false
	}
	var maxGap int64
	for i := 1; i < len(ts); i++ {
		maxGap = max(maxGap, ts[i]-ts[i-1])
	}
	if maxGap <= lifespan/2 {
		return schemas.TemporalPattern{}, false
	}
	return schemas.TemporalPattern{
		Type:        PatternDormantActive,
		Description: fmt.Sprintf("Long dormancy period of %d days followed by resumed activity", maxGap/day),
		Confidence:  float64(maxGap) / float64(lifespan),
		Evidence: []string{
			fmt.Sprintf("Maximum gap: %d days", maxGap/day),
			fmt.Sprintf("Total wallet age: %d days", lifespan/day),
		},
	}, true
}
