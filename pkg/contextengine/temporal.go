package contextengine

import (
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
)

// TemporalOptions configures time-based risk escalation.
type TemporalOptions struct {
	// FridayCutoffHour is the hour from which Friday counts as Friday afternoon.
	FridayCutoffHour int

	// WeekendBlocking escalates risk on Saturday and Sunday.
	WeekendBlocking bool

	// AfterHoursStart and AfterHoursEnd bound the after-hours window
	// [start, end). When start > end the window wraps midnight; when they
	// are equal the window is empty.
	AfterHoursStart int
	AfterHoursEnd   int

	// BaseRisk is the risk before escalation.
	BaseRisk engine.RiskLevel

	// Location is the timezone the rules are evaluated in. Nil keeps the
	// location of the supplied time.
	Location *time.Location
}

// DefaultTemporalOptions returns the standard temporal rules.
func DefaultTemporalOptions() TemporalOptions {
	return TemporalOptions{
		FridayCutoffHour: 15,
		WeekendBlocking:  true,
		AfterHoursStart:  18,
		AfterHoursEnd:    9,
		BaseRisk:         engine.RiskLow,
	}
}

// AnalyzeTemporal scores the risk of changing infrastructure at now.
// Each of weekend, Friday afternoon and after hours adds one level,
// capped at CRITICAL.
func AnalyzeTemporal(now time.Time, opts TemporalOptions) engine.TemporalContext {
	if opts.Location != nil {
		now = now.In(opts.Location)
	}

	weekday := now.Weekday()
	hour := now.Hour()

	tc := engine.TemporalContext{
		Timestamp:         now,
		IsWeekend:         weekday == time.Saturday || weekday == time.Sunday,
		IsFridayAfternoon: weekday == time.Friday && hour >= opts.FridayCutoffHour,
		IsAfterHours:      inWindow(hour, opts.AfterHoursStart, opts.AfterHoursEnd),
	}

	risk := opts.BaseRisk
	if risk < engine.RiskLow {
		risk = engine.RiskLow
	}
	if opts.WeekendBlocking && tc.IsWeekend {
		risk++
	}
	if tc.IsFridayAfternoon {
		risk++
	}
	if tc.IsAfterHours {
		risk++
	}
	if risk > engine.RiskCritical {
		risk = engine.RiskCritical
	}
	tc.RiskLevel = risk

	return tc
}

func inWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}
