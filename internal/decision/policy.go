package decision

import (
	"fmt"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
)

// Signal summarizes a step outcome for policy evaluation.
type Signal struct {
	Status     string // succeeded, failed, low_yield
	ErrorType  string // oom, memory, timeout, or empty
	Attempt    int
	YieldCount int
}

// Proposal is what the policy engine wants to do about a signal. AutoApply
// is set when the configured auto-approve levels cover the proposal's risk;
// otherwise the action waits for operator confirmation.
type Proposal struct {
	Action    Action
	Risk      Risk
	Rationale string
	Params    map[string]string
	AutoApply bool
}

// Policy turns step outcome signals into graded remediation proposals.
type Policy struct {
	cfg config.AgentConfig
}

// NewPolicy builds the policy engine from the agent config section.
func NewPolicy(cfg config.AgentConfig) *Policy {
	return &Policy{cfg: cfg}
}

// Evaluate inspects one step outcome and proposes at most one action.
// Resource exhaustion within the retry budget escalates; other failures
// within budget retry as-is; past the budget the run asks for manual
// review. A low-yield sample gets a threshold-relaxation suggestion that
// stays advisory until an operator confirms it.
func (p *Policy) Evaluate(step string, sig Signal) Proposal {
	prop := Proposal{Action: ActionNone, Rationale: "no remediation needed"}
	switch {
	case sig.Status == "failed" && isResourceExhaustion(sig.ErrorType) && sig.Attempt <= p.cfg.RetryLimit:
		prop = Proposal{
			Action:    ActionEscalateResources,
			Rationale: fmt.Sprintf("%s failed with %s on attempt %d, retrying with more resources", step, sig.ErrorType, sig.Attempt),
			Params:    map[string]string{"mem_scale": "2.0", "runtime_scale": "2.0"},
		}
	case sig.Status == "failed" && sig.Attempt <= p.cfg.RetryLimit:
		prop = Proposal{
			Action:    ActionRetry,
			Rationale: fmt.Sprintf("%s failed on attempt %d of %d", step, sig.Attempt, p.cfg.RetryLimit+1),
			Params:    map[string]string{"attempt": fmt.Sprint(sig.Attempt + 1)},
		}
	case sig.Status == "failed":
		prop = Proposal{
			Action:    ActionManualReview,
			Rationale: fmt.Sprintf("%s exhausted its %d retries", step, p.cfg.RetryLimit),
		}
	case sig.Status == "low_yield" && sig.YieldCount < p.cfg.LowYieldThreshold:
		prop = Proposal{
			Action:    ActionRelaxThresholds,
			Rationale: fmt.Sprintf("%s yielded %d sequences, below %d", step, sig.YieldCount, p.cfg.LowYieldThreshold),
			Params:    map[string]string{"allowed_quality_tiers": "Complete,High,Medium,Low", "contamination_ratio": "0.1"},
		}
	}
	prop.Risk = Classify(prop.Action)
	// A manual-review request is never auto-applied; it exists to stop
	// automation.
	prop.AutoApply = prop.Action != ActionManualReview &&
		prop.Action != ActionNone &&
		p.cfg.AutoApproves(string(prop.Risk))
	return prop
}

func isResourceExhaustion(errorType string) bool {
	switch errorType {
	case "oom", "memory", "timeout":
		return true
	}
	return false
}
