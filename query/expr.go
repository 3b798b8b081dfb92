package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// Expr is a computed-column expression evaluated against one result
// entity. The grammar is deliberately closed: literals, column references
// and the handful of binary operators the host layer emits.
type Expr interface {
	Eval(e *datastore.Entity) (any, error)
}

// Literal is a constant value.
type Literal struct {
	Value any
}

// Eval implements Expr.
func (l Literal) Eval(*datastore.Entity) (any, error) {
	return l.Value, nil
}

// Column references a column of the current entity.
type Column struct {
	Name string
}

// Eval implements Expr.
func (c Column) Eval(e *datastore.Entity) (any, error) {
	v, _ := e.Get(c.Name)
	return v, nil
}

// Binary applies an arithmetic or comparison operator to two
// sub-expressions. Supported operators: + - * / < > =.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Eval implements Expr.
func (b Binary) Eval(e *datastore.Entity) (any, error) {
	left, err := b.Left.Eval(e)
	if err != nil {
		return nil, err
	}
	right, err := b.Right.Eval(e)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "+", "-", "*", "/":
		return arithmetic(b.Op, left, right)
	case "<", ">", "=":
		cmp, ok := datastore.CompareValues(left, right)
		if !ok {
			return nil, fmt.Errorf("%w: cannot compare %T with %T", datastore.ErrUnsupported, left, right)
		}
		switch b.Op {
		case "<":
			return cmp < 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp == 0, nil
		}
	}
	return nil, fmt.Errorf("%w: operator %q", datastore.ErrUnsupported, b.Op)
}

func arithmetic(op string, left, right any) (any, error) {
	left, right = datastore.NormalizeValue(left), datastore.NormalizeValue(right)

	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok && op == "+" {
			return ls + rs, nil
		}
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, fmt.Errorf("%w: division by zero", datastore.ErrUnsupported)
			}
			return li / ri, nil
		}
	}

	lf, lOK := toFloat(left)
	rf, rOK := toFloat(right)
	if !lOK || !rOK {
		return nil, fmt.Errorf("%w: cannot apply %q to %T and %T", datastore.ErrUnsupported, op, left, right)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	default:
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", datastore.ErrUnsupported)
		}
		return lf / rf, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

var dateFormats = []string{"2006-01-02", "2006-01-02 15:04:05"}

// ParseToken builds an expression operand from one host-layer token: a
// quoted string (dates recognized), a column reference, a null/boolean
// literal, an integer, or a plain string literal.
func ParseToken(m *model.Model, token string) Expr {
	if strings.HasPrefix(token, "'") && strings.HasSuffix(token, "'") && len(token) >= 2 {
		text := strings.Trim(token, "'")
		for _, format := range dateFormats {
			if ts, err := time.Parse(format, text); err == nil {
				return Literal{Value: ts}
			}
		}
		return Literal{Value: text}
	}

	if m.FieldByColumn(token) != nil {
		return Column{Name: token}
	}

	switch strings.ToLower(token) {
	case "null":
		return Literal{Value: nil}
	case "true":
		return Literal{Value: true}
	case "false":
		return Literal{Value: false}
	}

	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return Literal{Value: n}
	}
	return Literal{Value: token}
}
