package monitoring

import "fmt"

// Alert thresholds mirror the operational runbook: a 10% error rate or
// 2s average latency is a page, a floor under 10% availability is a warning.
const (
	errorRateThreshold    = 0.10
	avgLatencyThresholdMs = 2000.0
	lowAvailabilityRatio  = 0.10
)

type Alert struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// FloorAvailability is the slice of floor state alert evaluation needs.
type FloorAvailability struct {
	Name       string
	Available  int
	TotalSlots int
}

// EvaluateAlerts derives active alerts from the request snapshot and the
// current floor states.
func EvaluateAlerts(snap Snapshot, floors []FloorAvailability) []Alert {
	alerts := []Alert{}

	if snap.TotalRequests > 0 && snap.ErrorRate > errorRateThreshold {
		alerts = append(alerts, Alert{
			Code:     "HIGH_ERROR_RATE",
			Severity: "critical",
			Message:  fmt.Sprintf("error rate %.1f%% exceeds %.0f%%", snap.ErrorRate*100, errorRateThreshold*100),
		})
	}
	if snap.AvgLatencyMs > avgLatencyThresholdMs {
		alerts = append(alerts, Alert{
			Code:     "HIGH_LATENCY",
			Severity: "critical",
			Message:  fmt.Sprintf("average latency %.0fms exceeds %.0fms", snap.AvgLatencyMs, avgLatencyThresholdMs),
		})
	}
	for _, f := range floors {
		if f.TotalSlots == 0 {
			continue
		}
		if float64(f.Available)/float64(f.TotalSlots) < lowAvailabilityRatio {
			alerts = append(alerts, Alert{
				Code:     "LOW_PARKING_AVAILABILITY",
				Severity: "warning",
				Message:  fmt.Sprintf("floor %s has %d of %d slots free", f.Name, f.Available, f.TotalSlots),
			})
		}
	}
	return alerts
}
