package checks

import (
	"encoding/json"
	"fmt"
)

// GateReport is the verdict of comparing a verification result against a pass-rate threshold.
type GateReport struct {
	Threshold float64      `json:"threshold"`
	PassRate  float64      `json:"pass_rate"`
	Checked   int          `json:"checked"`
	Warn      bool         `json:"warn"`
	Message   string       `json:"message,omitempty"`
	Samples   []BlockError `json:"samples,omitempty"`
}

// JSON returns the gate report as indented JSON.
func (g *GateReport) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// maxGateSamples bounds the number of sample errors carried by a warning.
const maxGateSamples = 5

// Gate reports a warning when the pass rate is under threshold and at least
// one block was checked. It never fails a run on its own.
func Gate(res *VerifyResult, threshold float64) *GateReport {
	g := &GateReport{Threshold: threshold}
	if res == nil || res.Unavailable {
		return g
	}
	g.PassRate = res.PassRate
	g.Checked = res.Checked()

	if g.Checked == 0 || res.PassRate >= threshold {
		return g
	}
	g.Warn = true
	g.Message = fmt.Sprintf("Only %.1f%% of examples passed jac check (threshold: %.1f%%)", res.PassRate, threshold)
	n := min(len(res.Errors), maxGateSamples)
	g.Samples = append([]BlockError(nil), res.Errors[:n]...)
	return g
}
