package weather

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ThresholdInches is the accumulation at which Chicago's 2-inch snow
// ban kicks in.
const ThresholdInches = 2.0

// ScanHorizon bounds how far ahead forecast periods are considered.
const ScanHorizon = 48 * time.Hour

// qualitativeInches is the conservative accumulation assumed when the
// forecast only says "heavy"/"considerable" snow without numbers.
const qualitativeInches = 2.0

var (
	rangeRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*to\s*(\d+(?:\.\d+)?)\s*inch`)
	singleRe = regexp.MustCompile(`(?i)(?:around|of|up to)\s+(\d+(?:\.\d+)?)\s*inch`)
)

// SnowAccumulation extracts the forecast snow accumulation in inches
// from free-text. "N to M inches" averages the bounds; a qualitative
// heavy/considerable mention with no figure counts as 2 inches.
func SnowAccumulation(text string) float64 {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "snow") {
		return 0
	}

	if m := rangeRe.FindStringSubmatch(text); m != nil {
		lo, err1 := strconv.ParseFloat(m[1], 64)
		hi, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil {
			return (lo + hi) / 2
		}
	}
	if m := singleRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	if strings.Contains(lower, "heavy snow") || strings.Contains(lower, "considerable") {
		return qualitativeInches
	}
	return 0
}

// Threat is a forecast period expected to cross the snow-ban threshold.
type Threat struct {
	PeriodName string
	Inches     float64
	Start      time.Time
	LeadTime   time.Duration
}

// FirstSnowThreat scans upcoming periods for the first accumulation at
// or above the threshold. Periods past the scan horizon are ignored.
func FirstSnowThreat(periods []Period, now time.Time) *Threat {
	for _, p := range periods {
		if p.StartTime.After(now.Add(ScanHorizon)) {
			continue
		}
		if p.EndTime.Before(now) {
			continue
		}
		inches := SnowAccumulation(p.DetailedForecast)
		if inches < ThresholdInches {
			inches = SnowAccumulation(p.ShortForecast)
		}
		if inches >= ThresholdInches {
			lead := p.StartTime.Sub(now)
			if lead < 0 {
				lead = 0
			}
			return &Threat{
				PeriodName: p.Name,
				Inches:     inches,
				Start:      p.StartTime,
				LeadTime:   lead,
			}
		}
	}
	return nil
}
