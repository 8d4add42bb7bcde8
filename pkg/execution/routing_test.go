package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/vine/pkg/conditions"
	"github.com/Ramsey-B/vine/pkg/models"
)

func TestRouter_Route(t *testing.T) {
	router := NewRouter(conditions.NewEvaluator(nil, testLogger()))
	execCtx := NewExecutionContext("chain", "exec", 0, map[string]any{"ticket": 7}, nil, nil).
		WithResult(models.StepResult{StepID: "check", Success: true, Response: map[string]any{"score": 75}})
	index := map[string]int{"check": 0, "later": 2}

	tests := []struct {
		name        string
		rules       []models.RoutingRule
		wantKind    ControlKind
		wantMatched *int
		wantCode    models.ErrorCode
	}{
		{
			name:     "no rules continue",
			wantKind: ControlContinue,
		},
		{
			name: "no match continues",
			rules: []models.RoutingRule{
				{Condition: models.Leaf("check.response.score", models.OperatorLessThan, 10), Action: models.RoutingActionStopChain},
			},
			wantKind: ControlContinue,
		},
		{
			name: "first match wins",
			rules: []models.RoutingRule{
				{Condition: models.Leaf("check.response.score", models.OperatorLessThan, 10), Action: models.RoutingActionStopChain},
				{Condition: models.Leaf("check.response.score", models.OperatorGreaterOrEqual, 50), Action: models.RoutingActionSkipToStep, Target: "later"},
				{Condition: models.Leaf("check.success", models.OperatorEquals, true), Action: models.RoutingActionStopChain},
			},
			wantKind:    ControlSkipTo,
			wantMatched: ptr(1),
		},
		{
			name: "stop",
			rules: []models.RoutingRule{
				{Condition: models.Leaf("check.success", models.OperatorEquals, true), Action: models.RoutingActionStopChain},
			},
			wantKind:    ControlStop,
			wantMatched: ptr(0),
		},
		{
			name: "unknown skip target",
			rules: []models.RoutingRule{
				{Condition: models.Leaf("check.success", models.OperatorExists, nil), Action: models.RoutingActionSkipToStep, Target: "missing"},
			},
			wantMatched: ptr(0),
			wantCode:    models.ErrorCodeInvalidTargetStep,
		},
		{
			name: "jump without target",
			rules: []models.RoutingRule{
				{Condition: models.Leaf("check.success", models.OperatorExists, nil), Action: models.RoutingActionJumpToChain},
			},
			wantMatched: ptr(0),
			wantCode:    models.ErrorCodeInvalidTargetChain,
		},
		{
			name: "malformed condition",
			rules: []models.RoutingRule{
				{Condition: models.Condition{Field: "check.success", Operator: "approximately"}, Action: models.RoutingActionStopChain},
			},
			wantCode: models.ErrorCodeEvalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := models.Step{ID: "check", Type: models.StepTypeModuleCall, Routing: tt.rules}

			action, diagnostics, err := router.Route(step, execCtx, index)
			if tt.wantCode != "" {
				require.Error(t, err)
				code, ok := models.ErrorCodeOf(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, code)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantKind, action.Kind)
			}

			assert.Equal(t, len(tt.rules) > 0, diagnostics.Evaluated)
			assert.Equal(t, tt.wantMatched, diagnostics.MatchedRule)
		})
	}
}

func TestRouter_JumpInputMapping(t *testing.T) {
	router := NewRouter(conditions.NewEvaluator(nil, testLogger()))
	execCtx := NewExecutionContext("chain", "exec", 0, map[string]any{"ticket": 7}, nil, nil).
		WithResult(models.StepResult{StepID: "check", Response: map[string]any{"kind": "refund"}})

	t.Run("mapping renders against the context", func(t *testing.T) {
		step := models.Step{ID: "check", Routing: []models.RoutingRule{{
			Condition:    models.Leaf("check.response.kind", models.OperatorEquals, "refund"),
			Action:       models.RoutingActionJumpToChain,
			Target:       "refunds",
			InputMapping: map[string]any{"id": "{{ input.ticket }}", "reason": "{{ check.response.kind }}"},
		}}}

		action, diagnostics, err := router.Route(step, execCtx, nil)
		require.NoError(t, err)
		assert.Equal(t, ControlJumpTo, action.Kind)
		assert.Equal(t, "refunds", action.ChainID)
		assert.Equal(t, map[string]any{"id": float64(7), "reason": "refund"}, action.Input)
		assert.Equal(t, models.RoutingActionJumpToChain, diagnostics.Action)
	})

	t.Run("nil mapping forwards the input", func(t *testing.T) {
		step := models.Step{ID: "check", Routing: []models.RoutingRule{{
			Condition: models.Leaf("input.ticket", models.OperatorExists, nil),
			Action:    models.RoutingActionJumpToChain,
			Target:    "refunds",
		}}}

		action, _, err := router.Route(step, execCtx, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"ticket": float64(7)}, action.Input)
	})
}
