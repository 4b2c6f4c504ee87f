package models

// TestResult is one statistic reported by a validation run.
type TestResult struct {
	Name   string  `json:"name"`
	Metric float64 `json:"metric"`
	PValue float64 `json:"p_value"`
	Passed bool    `json:"passed"`
	Notes  string  `json:"notes"`
}
