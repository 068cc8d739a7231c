// Package evalgo is a small Go-expression evaluator over session
// bindings. It exists so a server has working eval semantics out of the
// box: arithmetic, comparisons, string concatenation, variables bound
// in the session, and the print/readline builtins. It is deliberately
// not a Go interpreter; anything beyond expressions and assignments is
// rejected with an error.
package evalgo

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/replkit/mrepl-server-go/ops"
	"github.com/replkit/mrepl-server-go/sessions"
)

// Evaluator evaluates one or more newline-separated expressions or
// assignments, returning the value of the last one.
type Evaluator struct{}

var _ ops.Evaluator = (*Evaluator)(nil)

func New() *Evaluator { return &Evaluator{} }

func (e *Evaluator) Eval(ctx context.Context, sess *sessions.Session, code string, eio ops.EvalIO) (any, error) {
	var last any
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, cause(ctx)
		}
		v, err := evalLine(ctx, sess, line, eio)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

func cause(ctx context.Context) error {
	if c := context.Cause(ctx); c != nil {
		return c
	}
	return ctx.Err()
}

// evalLine handles a single statement: either "name = expr" or a bare
// expression.
func evalLine(ctx context.Context, sess *sessions.Session, line string, eio ops.EvalIO) (any, error) {
	if name, rhs, ok := splitAssign(line); ok {
		v, err := evalExprString(ctx, sess, rhs, eio)
		if err != nil {
			return nil, err
		}
		sess.Set(name, v)
		return v, nil
	}
	return evalExprString(ctx, sess, line, eio)
}

// splitAssign recognizes "ident = expr", rejecting "==" and compound
// operators so comparisons still parse as expressions.
func splitAssign(line string) (name, rhs string, ok bool) {
	i := strings.Index(line, "=")
	if i <= 0 || i+1 >= len(line) {
		return "", "", false
	}
	if line[i+1] == '=' {
		return "", "", false
	}
	switch line[i-1] {
	case '!', '<', '>', '+', '-', '*', '/', '%', '&', '|':
		return "", "", false
	}
	name = strings.TrimSpace(line[:i])
	if !token.IsIdentifier(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(line[i+1:]), true
}

func evalExprString(ctx context.Context, sess *sessions.Session, src string, eio ops.EvalIO) (any, error) {
	expr, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	return evalExpr(ctx, sess, expr, eio)
}

func evalExpr(ctx context.Context, sess *sessions.Session, expr ast.Expr, eio ops.EvalIO) (any, error) {
	switch n := expr.(type) {
	case *ast.ParenExpr:
		return evalExpr(ctx, sess, n.X, eio)

	case *ast.BasicLit:
		return evalLit(n)

	case *ast.Ident:
		switch n.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
		if v, ok := sess.Get(n.Name); ok {
			return v, nil
		}
		return nil, fmt.Errorf("unbound: %s", n.Name)

	case *ast.UnaryExpr:
		return evalUnary(ctx, sess, n, eio)

	case *ast.BinaryExpr:
		return evalBinary(ctx, sess, n, eio)

	case *ast.CallExpr:
		return evalCall(ctx, sess, n, eio)

	default:
		return nil, fmt.Errorf("unsupported expression: %T", expr)
	}
}

func evalLit(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT:
		return strconv.ParseInt(lit.Value, 0, 64)
	case token.FLOAT:
		return strconv.ParseFloat(lit.Value, 64)
	case token.STRING, token.CHAR:
		return strconv.Unquote(lit.Value)
	default:
		return nil, fmt.Errorf("unsupported literal: %s", lit.Kind)
	}
}

func evalUnary(ctx context.Context, sess *sessions.Session, n *ast.UnaryExpr, eio ops.EvalIO) (any, error) {
	v, err := evalExpr(ctx, sess, n.X, eio)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case token.SUB:
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
	case token.NOT:
		if b, ok := v.(bool); ok {
			return !b, nil
		}
	}
	return nil, fmt.Errorf("cannot apply %s to %T", n.Op, v)
}

func evalBinary(ctx context.Context, sess *sessions.Session, n *ast.BinaryExpr, eio ops.EvalIO) (any, error) {
	// Short-circuit the boolean connectives before touching the right
	// operand.
	if n.Op == token.LAND || n.Op == token.LOR {
		lv, err := evalExpr(ctx, sess, n.X, eio)
		if err != nil {
			return nil, err
		}
		lb, ok := lv.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot apply %s to %T", n.Op, lv)
		}
		if n.Op == token.LAND && !lb {
			return false, nil
		}
		if n.Op == token.LOR && lb {
			return true, nil
		}
		rv, err := evalExpr(ctx, sess, n.Y, eio)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot apply %s to %T", n.Op, rv)
		}
		return rb, nil
	}

	lv, err := evalExpr(ctx, sess, n.X, eio)
	if err != nil {
		return nil, err
	}
	rv, err := evalExpr(ctx, sess, n.Y, eio)
	if err != nil {
		return nil, err
	}

	if ls, ok := lv.(string); ok {
		return evalStringOp(n.Op, ls, rv)
	}
	return evalNumericOp(n.Op, lv, rv)
}

func evalStringOp(op token.Token, l string, rv any) (any, error) {
	r, ok := rv.(string)
	if !ok {
		return nil, fmt.Errorf("cannot apply %s to string and %T", op, rv)
	}
	switch op {
	case token.ADD:
		return l + r, nil
	case token.EQL:
		return l == r, nil
	case token.NEQ:
		return l != r, nil
	case token.LSS:
		return l < r, nil
	case token.GTR:
		return l > r, nil
	case token.LEQ:
		return l <= r, nil
	case token.GEQ:
		return l >= r, nil
	}
	return nil, fmt.Errorf("unsupported string operator: %s", op)
}

func evalNumericOp(op token.Token, lv, rv any) (any, error) {
	// Mixed int/float arithmetic promotes to float.
	if lf, rf, isFloat := asFloats(lv, rv); isFloat {
		switch op {
		case token.ADD:
			return lf + rf, nil
		case token.SUB:
			return lf - rf, nil
		case token.MUL:
			return lf * rf, nil
		case token.QUO:
			if rf == 0 {
				return nil, errors.New("division by zero")
			}
			return lf / rf, nil
		case token.EQL:
			return lf == rf, nil
		case token.NEQ:
			return lf != rf, nil
		case token.LSS:
			return lf < rf, nil
		case token.GTR:
			return lf > rf, nil
		case token.LEQ:
			return lf <= rf, nil
		case token.GEQ:
			return lf >= rf, nil
		}
		return nil, fmt.Errorf("unsupported operator: %s", op)
	}

	li, lok := lv.(int64)
	ri, rok := rv.(int64)
	if !lok || !rok {
		return nil, fmt.Errorf("cannot apply %s to %T and %T", op, lv, rv)
	}
	switch op {
	case token.ADD:
		return li + ri, nil
	case token.SUB:
		return li - ri, nil
	case token.MUL:
		return li * ri, nil
	case token.QUO:
		if ri == 0 {
			return nil, errors.New("division by zero")
		}
		return li / ri, nil
	case token.REM:
		if ri == 0 {
			return nil, errors.New("division by zero")
		}
		return li % ri, nil
	case token.EQL:
		return li == ri, nil
	case token.NEQ:
		return li != ri, nil
	case token.LSS:
		return li < ri, nil
	case token.GTR:
		return li > ri, nil
	case token.LEQ:
		return li <= ri, nil
	case token.GEQ:
		return li >= ri, nil
	}
	return nil, fmt.Errorf("unsupported operator: %s", op)
}

func asFloats(lv, rv any) (float64, float64, bool) {
	lf, lIsFloat := lv.(float64)
	rf, rIsFloat := rv.(float64)
	if !lIsFloat && !rIsFloat {
		return 0, 0, false
	}
	if !lIsFloat {
		li, ok := lv.(int64)
		if !ok {
			return 0, 0, false
		}
		lf = float64(li)
	}
	if !rIsFloat {
		ri, ok := rv.(int64)
		if !ok {
			return 0, 0, false
		}
		rf = float64(ri)
	}
	return lf, rf, true
}

func evalCall(ctx context.Context, sess *sessions.Session, n *ast.CallExpr, eio ops.EvalIO) (any, error) {
	ident, ok := n.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("unsupported call target: %T", n.Fun)
	}

	switch ident.Name {
	case "print", "println":
		parts := make([]string, 0, len(n.Args))
		for _, arg := range n.Args {
			v, err := evalExpr(ctx, sess, arg, eio)
			if err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		out := strings.Join(parts, " ")
		if ident.Name == "println" {
			out += "\n"
		}
		if _, err := fmt.Fprint(eio.Stdout, out); err != nil {
			return nil, err
		}
		return nil, nil

	case "readline":
		if len(n.Args) != 0 {
			return nil, errors.New("readline takes no arguments")
		}
		return eio.ReadLine(ctx)

	case "len":
		if len(n.Args) != 1 {
			return nil, errors.New("len takes one argument")
		}
		v, err := evalExpr(ctx, sess, n.Args[0], eio)
		if err != nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("len of %T", v)
		}
		return int64(len(s)), nil

	default:
		return nil, fmt.Errorf("unknown function: %s", ident.Name)
	}
}
