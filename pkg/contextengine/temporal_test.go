package contextengine

import (
	"testing"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
)

// 2024-06-10 is a Monday.
func at(day, hour int) time.Time {
	return time.Date(2024, 6, day, hour, 30, 0, 0, time.UTC)
}

func TestAnalyzeTemporal(t *testing.T) {
	defaults := DefaultTemporalOptions()

	tests := []struct {
		name          string
		now           time.Time
		opts          func(*TemporalOptions)
		wantRisk      engine.RiskLevel
		weekend       bool
		afterHours    bool
		fridayAfterno bool
	}{
		{name: "monday morning", now: at(10, 10), wantRisk: engine.RiskLow},
		{name: "monday early", now: at(10, 8), wantRisk: engine.RiskMedium, afterHours: true},
		{name: "friday before cutoff", now: at(14, 14), wantRisk: engine.RiskLow},
		{name: "friday afternoon", now: at(14, 16), wantRisk: engine.RiskMedium, fridayAfterno: true},
		{name: "friday evening", now: at(14, 19), wantRisk: engine.RiskHigh, fridayAfterno: true, afterHours: true},
		{name: "saturday midday", now: at(15, 12), wantRisk: engine.RiskMedium, weekend: true},
		{name: "saturday night", now: at(15, 22), wantRisk: engine.RiskHigh, weekend: true, afterHours: true},
		{
			name: "weekend blocking disabled", now: at(16, 12), wantRisk: engine.RiskLow, weekend: true,
			opts: func(o *TemporalOptions) { o.WeekendBlocking = false },
		},
		{
			name: "capped at critical", now: at(15, 22), wantRisk: engine.RiskCritical, weekend: true, afterHours: true,
			opts: func(o *TemporalOptions) { o.BaseRisk = engine.RiskHigh },
		},
		{
			name: "empty after-hours window", now: at(10, 3), wantRisk: engine.RiskLow,
			opts: func(o *TemporalOptions) { o.AfterHoursStart, o.AfterHoursEnd = 9, 9 },
		},
		{
			name: "non-wrapping window", now: at(10, 13), wantRisk: engine.RiskMedium, afterHours: true,
			opts: func(o *TemporalOptions) { o.AfterHoursStart, o.AfterHoursEnd = 12, 14 },
		},
		{
			name: "window end exclusive", now: at(10, 9), wantRisk: engine.RiskLow,
		},
		{
			name: "base risk kept", now: at(10, 10), wantRisk: engine.RiskMedium,
			opts: func(o *TemporalOptions) { o.BaseRisk = engine.RiskMedium },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaults
			if tt.opts != nil {
				tt.opts(&opts)
			}

			tc := AnalyzeTemporal(tt.now, opts)

			if tc.RiskLevel != tt.wantRisk {
				t.Errorf("Expected risk %s, got %s", tt.wantRisk, tc.RiskLevel)
			}
			if tc.IsWeekend != tt.weekend {
				t.Errorf("Expected weekend=%v, got %v", tt.weekend, tc.IsWeekend)
			}
			if tc.IsAfterHours != tt.afterHours {
				t.Errorf("Expected after_hours=%v, got %v", tt.afterHours, tc.IsAfterHours)
			}
			if tc.IsFridayAfternoon != tt.fridayAfterno {
				t.Errorf("Expected friday_afternoon=%v, got %v", tt.fridayAfterno, tc.IsFridayAfternoon)
			}
			if tc.RiskLevel < opts.BaseRisk {
				t.Errorf("Risk %s fell below base %s", tc.RiskLevel, opts.BaseRisk)
			}
		})
	}
}

func TestAnalyzeTemporal_Location(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	opts := DefaultTemporalOptions()
	opts.Location = tokyo

	// Monday 10:30 UTC is Monday 19:30 in Tokyo.
	tc := AnalyzeTemporal(at(10, 10), opts)

	if !tc.IsAfterHours {
		t.Error("Expected after hours in the configured location")
	}
	if tc.Timestamp.Location() != tokyo {
		t.Errorf("Expected timestamp in %s, got %s", tokyo, tc.Timestamp.Location())
	}
}

func TestInWindow(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		want := hour >= 18 || hour < 9
		if got := inWindow(hour, 18, 9); got != want {
			t.Errorf("hour %d: expected %v, got %v", hour, want, got)
		}
		if inWindow(hour, 5, 5) {
			t.Errorf("hour %d: expected empty window", hour)
		}
	}
}
