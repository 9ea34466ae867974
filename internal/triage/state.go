// Package triage decides a finding's analysis state from exploit
// evidence, CVSS exploitability submetrics and EPSS percentile.
package triage

import "strings"

// State is a VEX analysis state.
type State string

const (
	StateInTriage             State = "in_triage"
	StateExploitable          State = "exploitable"
	StateResolved             State = "resolved"
	StateResolvedWithPedigree State = "resolved_with_pedigree"
	StateFalsePositive        State = "false_positive"
	StateNotAffected          State = "not_affected"
)

// Terminal states are human-assigned and never set by this engine; an
// existing terminal state is preserved untouched.
func (s State) Terminal() bool {
	switch s {
	case StateResolved, StateResolvedWithPedigree, StateFalsePositive, StateNotAffected:
		return true
	}
	return false
}

// EPSSCriticalPercentile is the strict lower bound for the EPSS path:
// a percentile must exceed it to qualify.
const EPSSCriticalPercentile = 0.954

// Exploitability submetric values that mark a vector as actionable.
var (
	v3ExploitCodes = []string{"E:U", "E:P", "E:F", "E:H"}
	v4ExploitCodes = []string{"E:A", "E:P", "E:U"}
)

// Input is the evidence the decision runs on.
type Input struct {
	PriorState     State
	KnownExploits  int
	CvssVector     string
	EpssPercentile float64
	HasEpss        bool
}

// Decision is the outcome. Automated is false when the prior state was
// simply retained.
type Decision struct {
	State     State
	Automated bool
	Detail    string
}

// Decide evaluates the transition table in strict precedence order;
// the first matching rule wins.
func Decide(in Input) Decision {
	prior := in.PriorState
	if prior == "" {
		prior = StateInTriage
	}
	if prior.Terminal() {
		return Decision{State: prior}
	}
	if in.KnownExploits >= 1 {
		return Decision{State: StateExploitable, Automated: true, Detail: "Known exploitation"}
	}
	if VectorIndicatesExploitation(in.CvssVector) {
		return Decision{State: StateExploitable, Automated: true, Detail: "CVSS exploitability vector present"}
	}
	if in.HasEpss && in.EpssPercentile > EPSSCriticalPercentile {
		return Decision{State: StateExploitable, Automated: true, Detail: "EPSS percentile above critical threshold"}
	}
	return Decision{State: prior}
}

// VectorIndicatesExploitation reports whether the vector carries an
// exploit-maturity submetric indicating at least proof-of-concept
// exploitation.
func VectorIndicatesExploitation(vector string) bool {
	if vector == "" {
		return false
	}
	codes := v3ExploitCodes
	if strings.HasPrefix(vector, "CVSS:4.0/") {
		codes = v4ExploitCodes
	}
	for _, code := range codes {
		if strings.Contains(vector, "/"+code) {
			return true
		}
	}
	return false
}
