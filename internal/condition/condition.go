// Package condition parses and evaluates the `{{ expr }}` predicate
// grammar used by AgentStageConfig.Condition, built on expr-lang/expr.
// Expressions run against a map[string]any context shaped as
// stages.<name>.outputs.<key>; a reference to a stage or key that doesn't
// exist resolves to false plus a recorded warning, never a runtime error.
package condition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// templateRE matches a whole `{{ ... }}` condition body.
var templateRE = regexp.MustCompile(`^\s*\{\{(.*)\}\}\s*$`)

// stageRefRE extracts `stages.<name>.outputs.<key>` references from source text.
var stageRefRE = regexp.MustCompile(`stages\.([A-Za-z_][A-Za-z0-9_-]*)\.outputs\.([A-Za-z_][A-Za-z0-9_]*)[A-Za-z0-9_.]*`)

// Body strips the `{{ }}` wrapper from a condition string, returning the
// raw expression and whether the string was in template form at all.
func Body(condition string) (string, bool) {
	m := templateRE.FindStringSubmatch(condition)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ValidateExpression performs the syntactic check used by the Validator: it
// compiles the expression body against a permissive environment and reports
// a compile error, never evaluating it.
func ValidateExpression(condition string) error {
	body, ok := Body(condition)
	if !ok {
		return fmt.Errorf("condition %q is not a {{ ... }} template", condition)
	}
	_, err := expr.Compile(body, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("invalid condition expression: %w", err)
	}
	return nil
}

// ExtractStageReferences yields the stage names referenced by a condition's
// stages.<name>.outputs.<key> accessors.
func ExtractStageReferences(condition string) []string {
	body, ok := Body(condition)
	if !ok {
		body = condition
	}
	matches := stageRefRE.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Context is the evaluation environment: stages.<name>.outputs.<key>.
type Context struct {
	Stages map[string]StageOutputs
}

// StageOutputs is the set of outputs one stage made available.
type StageOutputs struct {
	Outputs map[string]any
}

func (c Context) toEnv() map[string]any {
	stages := make(map[string]any, len(c.Stages))
	for name, s := range c.Stages {
		stages[name] = map[string]any{"outputs": s.Outputs}
	}
	return map[string]any{"stages": stages}
}

// Result is the outcome of Evaluate: a boolean plus any warning produced by
// a missing stage/key reference.
type Result struct {
	Value    bool
	Warnings []string
}

// Evaluate compiles and runs condition against ctx. Per the missing-
// reference policy, referencing a stage or output key absent from ctx never
// fails evaluation: the compiled program runs with
// expr.AllowUndefinedVariables(), and the overall result is coerced to
// false with a recorded warning whenever the expression touches an unknown
// reference.
func Evaluate(condition string, ctx Context) (Result, error) {
	body, ok := Body(condition)
	if !ok {
		return Result{}, fmt.Errorf("condition %q is not a {{ ... }} template", condition)
	}

	refs := ExtractStageReferences(body)
	env := ctx.toEnv()
	var warnings []string
	stagesEnv, _ := env["stages"].(map[string]any)
	for _, ref := range refs {
		if _, ok := stagesEnv[ref]; !ok {
			warnings = append(warnings, fmt.Sprintf("condition references unknown stage %q", ref))
		}
	}
	for _, m := range stageRefRE.FindAllStringSubmatch(body, -1) {
		if s, ok := ctx.Stages[m[1]]; ok {
			if _, ok := s.Outputs[m[2]]; !ok {
				warnings = append(warnings, fmt.Sprintf("condition references missing output %q of stage %q", m[2], m[1]))
			}
		}
	}
	if len(warnings) > 0 {
		return Result{Value: false, Warnings: warnings}, nil
	}

	program, err := expr.Compile(body, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return Result{}, fmt.Errorf("compiling condition: %w", err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return Result{}, fmt.Errorf("evaluating condition: %w", err)
	}
	return Result{Value: coerceBool(out)}, nil
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	default:
		return v != nil
	}
}
