package conditions

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/models"
)

// Evaluator decides routing and guard conditions against an execution context.
// Only malformed conditions produce an error. Unresolvable paths make a leaf false.
type Evaluator struct {
	jmespath *expressions.Evaluator
	logger   ectologger.Logger
}

func NewEvaluator(jmespath *expressions.Evaluator, logger ectologger.Logger) *Evaluator {
	if jmespath == nil {
		jmespath = expressions.NewEvaluator()
	}
	return &Evaluator{
		jmespath: jmespath,
		logger:   logger,
	}
}

// Evaluate evaluates cond against data. Errors carry the EVAL_ERROR code.
func (e *Evaluator) Evaluate(cond models.Condition, data map[string]any) (bool, error) {
	if cond.Kind() == models.ConditionKindGroup {
		return e.evaluateGroup(cond, data)
	}
	return e.evaluateLeaf(cond, data)
}

func (e *Evaluator) evaluateGroup(cond models.Condition, data map[string]any) (bool, error) {
	if len(cond.Conditions) == 0 {
		return false, models.NewExecutionError(models.ErrorCodeEvalError, "condition group has no children")
	}

	switch cond.Combinator {
	case models.CombinatorAnd:
		for _, child := range cond.Conditions {
			ok, err := e.Evaluate(child, data)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case models.CombinatorOr:
		for _, child := range cond.Conditions {
			ok, err := e.Evaluate(child, data)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, models.NewExecutionError(models.ErrorCodeEvalError, "unsupported combinator %q", cond.Combinator)
	}
}

func (e *Evaluator) evaluateLeaf(cond models.Condition, data map[string]any) (bool, error) {
	if cond.Expression != "" {
		return e.evaluateExpression(cond.Expression, data)
	}

	if cond.Field == "" {
		return false, models.NewExecutionError(models.ErrorCodeEvalError, "condition requires a field or an expression")
	}

	value, exists := expressions.Resolve(data, cond.Field)

	switch cond.Operator {
	case models.OperatorExists:
		return exists, nil
	case models.OperatorNotExists:
		return !exists, nil
	}

	if !isKnownOperator(cond.Operator) {
		return false, models.NewExecutionError(models.ErrorCodeEvalError, "unsupported operator %q", cond.Operator)
	}

	if !exists {
		return false, nil
	}

	return compare(cond.Operator, value, cond.Value), nil
}

func (e *Evaluator) evaluateExpression(expression string, data map[string]any) (bool, error) {
	compiled, err := e.jmespath.Compile(expression)
	if err != nil {
		return false, models.NewExecutionError(models.ErrorCodeEvalError, "%s", err.Error())
	}

	result, err := compiled.Search(data)
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).Debugf("Expression %q failed to evaluate, treating as false", expression)
		}
		return false, nil
	}

	return expressions.Truthy(result), nil
}

func isKnownOperator(op models.Operator) bool {
	switch op {
	case models.OperatorEquals, models.OperatorNotEquals,
		models.OperatorContains, models.OperatorNotContains,
		models.OperatorGreaterThan, models.OperatorLessThan,
		models.OperatorGreaterOrEqual, models.OperatorLessOrEqual,
		models.OperatorExists, models.OperatorNotExists:
		return true
	default:
		return false
	}
}
