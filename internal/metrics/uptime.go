package metrics

import (
	"math"
	"sort"
	"time"

	"netinfo/internal/models"
)

// ReachabilityUptime summarises probe results for one target.
type ReachabilityUptime struct {
	Target        string  `json:"target"`
	Method        string  `json:"method"`
	UptimePercent float64 `json:"uptimePercent"`
	TotalChecks   int     `json:"totalChecks"`
	Passing       int     `json:"passing"`
	Failing       int     `json:"failing"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
	LastState     string  `json:"lastState,omitempty"`
	LastUpdated   string  `json:"lastUpdated,omitempty"`
}

// ComputeReachabilityUptime aggregates probe samples per target.
func ComputeReachabilityUptime(samples []models.ProbeResult) []ReachabilityUptime {
	type acc struct {
		method    string
		passing   int
		failing   int
		latency   int64
		lastState string
		lastTime  time.Time
	}
	state := make(map[string]*acc)
	for _, sample := range samples {
		target := state[sample.Target]
		if target == nil {
			target = &acc{method: sample.Method}
			state[sample.Target] = target
		}
		if sample.OK {
			target.passing++
			target.latency += sample.LatencyMs
		} else {
			target.failing++
		}
		if !sample.CheckedAt.Before(target.lastTime) {
			target.lastTime = sample.CheckedAt
			target.lastState = stateLabel(sample.OK)
		}
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]ReachabilityUptime, 0, len(keys))
	for _, target := range keys {
		data := state[target]
		total := data.passing + data.failing
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.passing) / float64(total) * 100
		}
		avg := 0.0
		if data.passing > 0 {
			avg = float64(data.latency) / float64(data.passing)
		}

		result := ReachabilityUptime{
			Target:        target,
			Method:        data.method,
			UptimePercent: round2(uptime),
			TotalChecks:   total,
			Passing:       data.passing,
			Failing:       data.failing,
			AvgLatencyMs:  round2(avg),
			LastState:     data.lastState,
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func stateLabel(ok bool) string {
	if ok {
		return "reachable"
	}
	return "unreachable"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
