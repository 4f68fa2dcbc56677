package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// ErrDivisionByZero is returned when / or % has a zero right operand.
var ErrDivisionByZero = errors.New("division by zero")

// Resolver supplies values for identifiers. Lookup reports false for
// unknown names, which then evaluate to null.
type Resolver interface {
	Lookup(name string) (any, bool)
}

// MapResolver resolves identifiers from a plain map.
type MapResolver map[string]any

// Lookup implements Resolver.
func (m MapResolver) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string) (any, bool)

// Lookup implements Resolver.
func (f ResolverFunc) Lookup(name string) (any, bool) {
	return f(name)
}

// Chain consults each resolver in order and returns the first hit.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(name string) (any, bool) {
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			if v, ok := r.Lookup(name); ok {
				return v, true
			}
		}
		return nil, false
	})
}

// Eval evaluates a parsed expression. A nil resolver leaves every
// identifier undefined.
func Eval(e Expr, r Resolver) (any, error) {
	if r == nil {
		r = MapResolver(nil)
	}
	ev := &evaluator{r: r}
	return ev.eval(e)
}

// EvalString parses and evaluates src in one step.
func EvalString(src string, r Resolver) (any, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return Eval(e, r)
}

type evaluator struct {
	r Resolver
}

func (ev *evaluator) eval(e Expr) (any, error) {
	switch n := e.(type) {
	case *LiteralExpr:
		return n.Value, nil

	case *IdentExpr:
		val, ok := ev.r.Lookup(n.Name)
		if !ok {
			return nil, nil // undefined identifiers resolve to nil
		}
		return val, nil

	case *MemberExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		return accessMember(obj, n.Property)

	case *IndexExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		idx, err := ev.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return accessIndex(obj, idx)

	case *ArrayLiteral:
		return ev.evalList(n.Elements)

	case *CallExpr:
		args, err := ev.evalList(n.Args)
		if err != nil {
			return nil, err
		}
		fn, ok := builtins[n.Func]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", n.Func)
		}
		return fn(args)

	case *UnaryExpr:
		return ev.evalUnary(n)

	case *BinaryExpr:
		return ev.evalBinary(n)

	default:
		return nil, fmt.Errorf("unknown expression type %T", e)
	}
}

func (ev *evaluator) evalList(elems []Expr) ([]any, error) {
	result := make([]any, len(elems))
	for i, elem := range elems {
		val, err := ev.eval(elem)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}
	return result, nil
}

func (ev *evaluator) evalUnary(n *UnaryExpr) (any, error) {
	val, err := ev.eval(n.Operand)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case TokenNot:
		return !IsTruthy(val), nil
	case TokenMinus:
		f, ok := ToFloat64(val)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", val)
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("unknown unary operator %s", n.Op)
	}
}

func (ev *evaluator) evalBinary(n *BinaryExpr) (any, error) {
	// Short-circuit for logical operators
	switch n.Op {
	case TokenAnd:
		left, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if !IsTruthy(left) {
			return false, nil
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return IsTruthy(right), nil

	case TokenOr:
		left, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if IsTruthy(left) {
			return true, nil
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return IsTruthy(right), nil

	case TokenNullCoal:
		left, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if left != nil {
			return left, nil
		}
		return ev.eval(n.Right)
	}

	left, err := ev.eval(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent:
		return arithmetic(n.Op, left, right)
	case TokenEq:
		return isEqual(left, right), nil
	case TokenNeq:
		return !isEqual(left, right), nil
	case TokenGt, TokenGte, TokenLt, TokenLte:
		cmp, ok := compareNumeric(left, right)
		if !ok {
			return false, nil
		}
		switch n.Op {
		case TokenGt:
			return cmp > 0, nil
		case TokenGte:
			return cmp >= 0, nil
		case TokenLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case TokenIn:
		return checkIn(left, right), nil
	default:
		return nil, fmt.Errorf("unknown binary operator %s", n.Op)
	}
}

func arithmetic(op TokenKind, left, right any) (any, error) {
	// String concatenation
	if op == TokenPlus {
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}

	lf, lok := ToFloat64(left)
	rf, rok := ToFloat64(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s needs numeric operands, got %T and %T", op, left, right)
	}

	switch op {
	case TokenPlus:
		return lf + rf, nil
	case TokenMinus:
		return lf - rf, nil
	case TokenStar:
		return lf * rf, nil
	case TokenSlash:
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return lf / rf, nil
	default:
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return math.Mod(lf, rf), nil
	}
}

// IsTruthy implements the boolean coercion rules.
// Falsy: 0, "", null, false, empty array, empty object.
func IsTruthy(val any) bool {
	if val == nil {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v != ""
	}
	if f, ok := ToFloat64(val); ok {
		return f != 0
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	}
	return true
}

// isEqual follows reflect.DeepEqual semantics with numeric normalization.
func isEqual(a, b any) bool {
	af, aOK := ToFloat64(a)
	bf, bOK := ToFloat64(b)
	if aOK && bOK {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compareNumeric compares two values numerically, falling back to string
// comparison. ok is false if the values aren't comparable.
func compareNumeric(a, b any) (int, bool) {
	af, aOK := ToFloat64(a)
	bf, bOK := ToFloat64(b)
	if !aOK || !bOK {
		as, aStr := a.(string)
		bs, bStr := b.(string)
		if aStr && bStr {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

// ToFloat64 converts any Go numeric value to float64.
func ToFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int16:
		return float64(v), true
	case int8:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint8:
		return float64(v), true
	}
	return 0, false
}

// accessMember accesses a property on an object.
func accessMember(obj any, prop string) (any, error) {
	if obj == nil {
		return nil, nil
	}

	// Special built-in: .length
	if prop == "length" {
		return getLength(obj), nil
	}

	if m, ok := obj.(map[string]any); ok {
		return m[prop], nil
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		val := rv.MapIndex(reflect.ValueOf(prop).Convert(rv.Type().Key()))
		if val.IsValid() {
			return val.Interface(), nil
		}
	}
	return nil, nil
}

func getLength(obj any) any {
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return float64(rv.Len())
	}
	return nil
}

// accessIndex accesses an element by index.
func accessIndex(obj any, idx any) (any, error) {
	if obj == nil {
		return nil, nil
	}

	// String index for maps
	if key, ok := idx.(string); ok {
		return accessMember(obj, key)
	}

	i, ok := ToFloat64(idx)
	if !ok {
		return nil, fmt.Errorf("invalid index type %T", idx)
	}
	index := int(i)

	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if index < 0 || index >= rv.Len() {
			return nil, nil
		}
		return rv.Index(index).Interface(), nil
	}
	return nil, nil
}

// checkIn checks if left value exists in right array.
func checkIn(left, right any) bool {
	if right == nil {
		return false
	}
	rv := reflect.ValueOf(right)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if isEqual(left, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}
