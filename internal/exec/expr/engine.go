// Package expr executes validated expression programs against normalized
// tables inside a closed interpreter. The environment holds only the injected
// tables and a fixed function arena; there is no symbol through which a
// program can reach the filesystem, network, process table, or reflection.
package expr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheetwise/sheetwise/internal/exec"
	"github.com/sheetwise/sheetwise/internal/program"
	"github.com/sheetwise/sheetwise/internal/table"
)

// OutputVariable is the name a program binds its answer to.
const OutputVariable = "query_result"

// Engine is the in-memory expression engine. Stateless; safe for concurrent
// use.
type Engine struct{}

// New returns an expression engine.
func New() *Engine { return &Engine{} }

type env struct {
	vars   map[string]any
	tables map[string]*table.NormalizedTable
}

// Execute runs a program against the given tables. target names the table
// bound to df; with a single table it may be empty. The context is checked
// between statements, so deadlines take effect at statement granularity.
func (e *Engine) Execute(ctx context.Context, tables map[string]*table.NormalizedTable, target, text string) exec.Result {
	start := time.Now()
	sanitized := program.StripImports(text)

	scope := &env{
		vars:   make(map[string]any, 8),
		tables: make(map[string]*table.NormalizedTable, len(tables)),
	}
	for name, t := range tables {
		scope.tables[strings.ToLower(name)] = t
	}
	df, err := resolveTarget(tables, target)
	if err != nil {
		return exec.Failed(exec.FailureRuntime, err.Error(), sanitized, time.Since(start))
	}
	scope.vars["df"] = df

	result := runProgram(ctx, scope, sanitized)
	result.Duration = time.Since(start)
	return result
}

func resolveTarget(tables map[string]*table.NormalizedTable, target string) (*table.NormalizedTable, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables available")
	}
	if target != "" {
		for name, t := range tables {
			if strings.EqualFold(name, target) {
				return t, nil
			}
		}
		return nil, fmt.Errorf("unknown target sheet %q", target)
	}
	if len(tables) == 1 {
		for _, t := range tables {
			return t, nil
		}
	}
	return nil, fmt.Errorf("target sheet is required for multi-sheet data")
}

func runProgram(ctx context.Context, scope *env, text string) (result exec.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = exec.Failed(exec.FailureRuntime, fmt.Sprintf("program panicked: %v", r), text, 0)
		}
	}()

	for _, line := range splitStatements(text) {
		if err := ctx.Err(); err != nil {
			return exec.Failed(timeoutKind(err), "execution deadline exceeded", text, 0)
		}
		stmt, err := parseStatement(line)
		if err != nil {
			return exec.Failed(exec.FailureRuntime, fmt.Sprintf("parse %q: %v", line, err), text, 0)
		}
		value, err := scope.eval(stmt.expr)
		if err != nil {
			return exec.Failed(exec.FailureRuntime, err.Error(), text, 0)
		}
		if stmt.assign != "" {
			scope.vars[stmt.assign] = value
		}
	}

	answer, bound := scope.vars[OutputVariable]
	if !bound {
		result = exec.Succeeded(nil, text, 0)
		result.Warning = fmt.Sprintf("program never bound %q; answer is null", OutputVariable)
		return result
	}
	return exec.Succeeded(finalize(answer), text, 0)
}

func timeoutKind(err error) exec.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return exec.FailureTimeout
	}
	return exec.FailureRuntime
}

// splitStatements breaks a program into statements on newlines and
// semicolons, dropping blanks and comment lines.
func splitStatements(text string) []string {
	statements := make([]string, 0, 8)
	for _, line := range strings.Split(text, "\n") {
		for _, piece := range strings.Split(line, ";") {
			piece = strings.TrimSpace(piece)
			if piece == "" || strings.HasPrefix(piece, "#") {
				continue
			}
			statements = append(statements, piece)
		}
	}
	return statements
}

func (e *env) eval(n node) (any, error) {
	switch typed := n.(type) {
	case numberNode:
		return float64(typed), nil
	case stringNode:
		return string(typed), nil
	case identNode:
		return e.lookup(string(typed))
	case negateNode:
		value, err := e.eval(typed.child)
		if err != nil {
			return nil, err
		}
		n, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", value)
		}
		return -n, nil
	case binaryNode:
		return e.evalBinary(typed)
	case callNode:
		args := make([]any, len(typed.args))
		for i, argNode := range typed.args {
			value, err := e.eval(argNode)
			if err != nil {
				return nil, err
			}
			args[i] = value
		}
		return e.callFunction(typed.name, args)
	default:
		return nil, fmt.Errorf("unsupported expression node %T", n)
	}
}

func (e *env) lookup(name string) (any, error) {
	switch strings.ToLower(name) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "none", "null", "nil":
		return nil, nil
	}
	if value, ok := e.vars[name]; ok {
		return value, nil
	}
	return nil, fmt.Errorf("unknown name %q", name)
}

func (e *env) evalBinary(n binaryNode) (any, error) {
	left, err := e.eval(n.left)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(n.right)
	if err != nil {
		return nil, err
	}
	if ls, ok := left.(string); ok && n.op == "+" {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
	}
	ln, lok := left.(float64)
	rn, rok := right.(float64)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q needs numbers, got %T and %T", n.op, left, right)
	}
	switch n.op {
	case "+":
		return ln + rn, nil
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return ln / rn, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", n.op)
	}
}

// finalize converts interpreter values into plain trees for the
// canonicalizer: series become lists, groupings become ordered key/value
// pair lists rendered as a mapping.
func finalize(value any) any {
	switch typed := value.(type) {
	case *Series:
		out := make([]any, len(typed.Values))
		for i, element := range typed.Values {
			out[i] = finalize(element)
		}
		return out
	case *Grouping:
		out := make(map[string]any, len(typed.Keys))
		for i, key := range typed.Keys {
			out[key] = finalize(typed.Values[i])
		}
		return out
	default:
		return value
	}
}
