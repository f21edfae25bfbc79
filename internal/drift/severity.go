package drift

import "fmt"

// Severity classifies how far the workspace has drifted from baseline.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Thresholds are the change-count boundaries for severity classification.
// They are configurable per workspace; see DefaultThresholds.
type Thresholds struct {
	Medium   int `yaml:"medium"`   // total changes > Medium   => medium
	High     int `yaml:"high"`     // total changes > High     => high
	Critical int `yaml:"critical"` // total changes > Critical => critical
}

// DefaultThresholds returns the default boundaries (5/10/20).
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 5, High: 10, Critical: 20}
}

// Validate enforces strictly increasing, non-negative thresholds so the
// classification stays monotonic.
func (t Thresholds) Validate() error {
	if t.Medium < 0 {
		return fmt.Errorf("drift threshold 'medium' must be >= 0, got %d", t.Medium)
	}
	if t.High <= t.Medium {
		return fmt.Errorf("drift threshold 'high' (%d) must be greater than 'medium' (%d)", t.High, t.Medium)
	}
	if t.Critical <= t.High {
		return fmt.Errorf("drift threshold 'critical' (%d) must be greater than 'high' (%d)", t.Critical, t.High)
	}
	return nil
}

// Classify maps a total added+modified+deleted count to a severity.
// Monotonic non-decreasing in the total change count.
func (t Thresholds) Classify(totalChanges int) Severity {
	switch {
	case totalChanges > t.Critical:
		return SeverityCritical
	case totalChanges > t.High:
		return SeverityHigh
	case totalChanges > t.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityError signals high or critical drift. It is a non-fatal signal:
// callers decide whether to halt (the CLI exits non-zero on it).
type SeverityError struct {
	Severity Severity
	Total    int
}

func (e *SeverityError) Error() string {
	return fmt.Sprintf("workspace drift severity is %s (%d total changes)", e.Severity, e.Total)
}
