package dataset

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/promptcanary/promptcanary/internal/extract"
)

// compiledRule wraps a pre-compiled CEL program for fast repeated evaluation.
type compiledRule struct {
	expression string
	program    cel.Program
}

// QualityGate evaluates CEL rules against extracted interactions. An
// interaction is admitted only when every rule evaluates to true. Rules are
// compiled once at construction; Admit is lock-free and safe for concurrent
// use.
type QualityGate struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewQualityGate compiles the given CEL expressions. Each expression must
// evaluate to bool and may reference:
//
//	feedback.score   normalized score in [0, 1], -1.0 when absent
//	feedback.kind    raw feedback kind, "" when absent
//	input.length     character length of the user input
//	output.length    character length of the agent output
func NewQualityGate(exprs []string, logger *slog.Logger) (*QualityGate, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("feedback.score", cel.DoubleType),
		cel.Variable("feedback.kind", cel.StringType),
		cel.Variable("input.length", cel.IntType),
		cel.Variable("output.length", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	g := &QualityGate{logger: logger.With("component", "dataset.QualityGate")}
	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
		}
		g.logger.Debug("compiled quality rule", "expression", expr)
		g.rules = append(g.rules, compiledRule{expression: expr, program: prg})
	}
	return g, nil
}

// Admit reports whether the interaction passes every quality rule. CEL
// evaluation errors reject the interaction and are logged rather than
// propagated, so one bad rule cannot abort a whole training run.
func (g *QualityGate) Admit(in *extract.Interaction) bool {
	if len(g.rules) == 0 {
		return true
	}

	score := -1.0
	if in.FeedbackScore != nil {
		score = *in.FeedbackScore
	}
	vars := map[string]interface{}{
		"feedback.score": score,
		"feedback.kind":  in.FeedbackKind,
		"input.length":   int64(len(in.UserInput)),
		"output.length":  int64(len(in.AgentOutput)),
	}

	for _, rule := range g.rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			g.logger.Warn("quality rule evaluation failed",
				"expression", rule.expression, "task_id", in.TaskID, "error", err)
			return false
		}
		pass, ok := out.Value().(bool)
		if !ok {
			g.logger.Warn("quality rule returned non-bool",
				"expression", rule.expression, "task_id", in.TaskID)
			return false
		}
		if !pass {
			return false
		}
	}
	return true
}
