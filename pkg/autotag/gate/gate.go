// Package gate decides whether an item is classified at all, using a CEL
// expression over the item.
package gate

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
)

// Gate holds a compiled boolean expression. Available variables:
//
//	item_id  string
//	body     string  raw stored body
//	length   int     body length in characters
type Gate struct {
	Expression string
	program    cel.Program
}

// New compiles expression. It must evaluate to a bool.
func New(expression string) (*Gate, error) {
	if expression == "" {
		return nil, fmt.Errorf("gate: empty expression")
	}

	env, err := cel.NewEnv(
		cel.Variable("item_id", cel.StringType),
		cel.Variable("body", cel.StringType),
		cel.Variable("length", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("gate: create environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("gate: compile %q: %w", expression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("gate: %q yields %s, want bool", expression, ast.OutputType())
	}

	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("gate: program: %w", err)
	}
	return &Gate{Expression: expression, program: p}, nil
}

// Allow evaluates the expression for one item.
func (g *Gate) Allow(itemID, body string) (bool, error) {
	out, _, err := g.program.Eval(map[string]any{
		"item_id": itemID,
		"body":    body,
		"length":  int64(utf8.RuneCountInString(body)),
	})
	if err != nil {
		return false, fmt.Errorf("gate: evaluate: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("gate: non-bool result %v", out.Value())
	}
	return v, nil
}
