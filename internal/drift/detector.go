package drift

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report categorizes the differences between a baseline and the current
// snapshot.
type Report struct {
	BaselineAt       time.Time `json:"baseline_at"`
	CurrentAt        time.Time `json:"current_at"`
	Added            []string  `json:"added"`
	Modified         []string  `json:"modified"`
	Deleted          []string  `json:"deleted"`
	ManifestsChanged []string  `json:"manifests_changed"`
	ConfigChanged    bool      `json:"config_changed"`
	Severity         Severity  `json:"severity"`
}

// TotalChanges is the count severity is derived from: files added, modified,
// and deleted, plus changed manifests, plus one for a config change.
func (r *Report) TotalChanges() int {
	total := len(r.Added) + len(r.Modified) + len(r.Deleted) + len(r.ManifestsChanged)
	if r.ConfigChanged {
		total++
	}
	return total
}

// Detector captures snapshots and compares them against the single durable
// baseline stored under the state directory.
type Detector struct {
	root         string
	tracked      []string
	manifests    []string
	configPath   string
	baselinePath string
	thresholds   Thresholds
}

// NewDetector creates a detector rooted at the workspace root. baselineDir
// is where the durable baseline record lives (one per workspace).
func NewDetector(root string, tracked, manifests []string, configPath, baselineDir string, thresholds Thresholds) *Detector {
	return &Detector{
		root:         root,
		tracked:      tracked,
		manifests:    manifests,
		configPath:   configPath,
		baselinePath: filepath.Join(baselineDir, "baseline.json"),
		thresholds:   thresholds,
	}
}

// Capture builds a snapshot of the current workspace state.
func (d *Detector) Capture() (*Snapshot, error) {
	return Capture(d.root, d.tracked, d.manifests, d.configPath)
}

// SaveBaseline persists snap as the durable baseline, replacing any prior one.
func (d *Detector) SaveBaseline(snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(d.baselinePath), 0755); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize baseline: %w", err)
	}
	if err := os.WriteFile(d.baselinePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write baseline: %w", err)
	}
	return nil
}

// LoadBaseline reads the durable baseline. Returns nil when none exists.
func (d *Detector) LoadBaseline() (*Snapshot, error) {
	data, err := os.ReadFile(d.baselinePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt baseline record: %w", err)
	}
	return &snap, nil
}

// Compare diffs current against baseline and classifies the severity.
func (d *Detector) Compare(baseline, current *Snapshot) *Report {
	report := &Report{
		BaselineAt: baseline.TakenAt,
		CurrentAt:  current.TakenAt,
	}

	for _, path := range sortedKeys(current.Files) {
		baseHash, existed := baseline.Files[path]
		switch {
		case !existed:
			report.Added = append(report.Added, path)
		case baseHash != current.Files[path]:
			report.Modified = append(report.Modified, path)
		}
	}
	for _, path := range sortedKeys(baseline.Files) {
		if _, exists := current.Files[path]; !exists {
			report.Deleted = append(report.Deleted, path)
		}
	}

	for _, manifest := range sortedKeys(current.Manifests) {
		if !bytes.Equal(baseline.Manifests[manifest], current.Manifests[manifest]) {
			report.ManifestsChanged = append(report.ManifestsChanged, manifest)
		}
	}
	for _, manifest := range sortedKeys(baseline.Manifests) {
		if _, exists := current.Manifests[manifest]; !exists {
			report.ManifestsChanged = append(report.ManifestsChanged, manifest)
		}
	}

	report.ConfigChanged = baseline.ConfigHash != current.ConfigHash
	report.Severity = d.thresholds.Classify(report.TotalChanges())
	return report
}

// Check captures the current state, compares it to the baseline, and returns
// the report. A high or critical severity is additionally signalled through
// *SeverityError alongside the report.
func (d *Detector) Check() (*Report, error) {
	baseline, err := d.LoadBaseline()
	if err != nil {
		return nil, err
	}
	if baseline == nil {
		return nil, fmt.Errorf("no drift baseline captured yet (run 'stagehand drift baseline' first)")
	}

	current, err := d.Capture()
	if err != nil {
		return nil, err
	}

	report := d.Compare(baseline, current)
	if report.Severity == SeverityHigh || report.Severity == SeverityCritical {
		return report, &SeverityError{Severity: report.Severity, Total: report.TotalChanges()}
	}
	return report, nil
}
