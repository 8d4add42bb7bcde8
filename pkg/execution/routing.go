package execution

import (
	"github.com/Ramsey-B/vine/pkg/conditions"
	"github.com/Ramsey-B/vine/pkg/models"
)

// ControlKind is the control-flow decision made after a step
type ControlKind int

const (
	ControlContinue ControlKind = iota
	ControlSkipTo
	ControlJumpTo
	ControlStop
)

func (k ControlKind) String() string {
	switch k {
	case ControlSkipTo:
		return "skip_to"
	case ControlJumpTo:
		return "jump_to"
	case ControlStop:
		return "stop"
	default:
		return "continue"
	}
}

// ControlAction tells the orchestrator where to go next
type ControlAction struct {
	Kind ControlKind

	// StepIndex is the cursor position for SkipTo
	StepIndex int

	// ChainID and Input describe the tail call for JumpTo
	ChainID string
	Input   map[string]any
}

// Router resolves a step's routing rules into a control action
type Router struct {
	evaluator *conditions.Evaluator
}

func NewRouter(evaluator *conditions.Evaluator) *Router {
	return &Router{evaluator: evaluator}
}

// Route evaluates the step's rules in order against the snapshot that already
// contains the step's own result. The first matching rule wins. No match continues.
func (r *Router) Route(step models.Step, execCtx *ExecutionContext, stepIndex map[string]int) (ControlAction, models.RoutingDiagnostics, error) {
	diagnostics := models.RoutingDiagnostics{Evaluated: len(step.Routing) > 0}
	if len(step.Routing) == 0 {
		return ControlAction{Kind: ControlContinue}, diagnostics, nil
	}

	data := execCtx.ToMap()
	for i, rule := range step.Routing {
		matched, err := r.evaluator.Evaluate(rule.Condition, data)
		if err != nil {
			return ControlAction{}, diagnostics, err
		}
		if !matched {
			continue
		}

		index := i
		diagnostics.MatchedRule = &index
		diagnostics.Action = rule.Action
		diagnostics.Target = rule.Target

		switch rule.Action {
		case models.RoutingActionSkipToStep:
			target, ok := stepIndex[rule.Target]
			if !ok {
				return ControlAction{}, diagnostics, models.NewExecutionError(models.ErrorCodeInvalidTargetStep,
					"step %q routes to unknown step %q", step.ID, rule.Target)
			}
			return ControlAction{Kind: ControlSkipTo, StepIndex: target}, diagnostics, nil

		case models.RoutingActionJumpToChain:
			if rule.Target == "" {
				return ControlAction{}, diagnostics, models.NewExecutionError(models.ErrorCodeInvalidTargetChain,
					"step %q jumps to a chain without a target", step.ID)
			}
			return ControlAction{
				Kind:    ControlJumpTo,
				ChainID: rule.Target,
				Input:   mapInput(rule.InputMapping, execCtx),
			}, diagnostics, nil

		case models.RoutingActionStopChain:
			return ControlAction{Kind: ControlStop}, diagnostics, nil

		default:
			return ControlAction{}, diagnostics, models.NewExecutionError(models.ErrorCodeInvalidChainDefinition,
				"step %q routing rule %d has unsupported action %q", step.ID, i, rule.Action)
		}
	}

	return ControlAction{Kind: ControlContinue}, diagnostics, nil
}
