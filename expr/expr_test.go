package expr

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// evalExpr is a parse-then-eval integration helper.
func evalExpr(t *testing.T, input string, vars map[string]any) any {
	t.Helper()
	ast, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) unexpected error: %v", input, err)
	}
	result, err := Eval(ast, MapResolver(vars))
	if err != nil {
		t.Fatalf("Eval(%q) unexpected error: %v", input, err)
	}
	return result
}

func assertBool(t *testing.T, label string, got any, want bool) {
	t.Helper()
	b, ok := got.(bool)
	if !ok {
		t.Fatalf("%s: expected bool, got %T (%v)", label, got, got)
	}
	if b != want {
		t.Fatalf("%s: got %v, want %v", label, b, want)
	}
}

func assertFloat64(t *testing.T, label string, got any, want float64) {
	t.Helper()
	f, ok := got.(float64)
	if !ok {
		t.Fatalf("%s: expected float64, got %T (%v)", label, got, got)
	}
	if f != want {
		t.Fatalf("%s: got %v, want %v", label, f, want)
	}
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

func TestLex_Operators(t *testing.T) {
	tests := []struct {
		input string
		kinds []TokenKind
	}{
		{"==", []TokenKind{TokenEq, TokenEOF}},
		{"!=", []TokenKind{TokenNeq, TokenEOF}},
		{">=", []TokenKind{TokenGte, TokenEOF}},
		{"<=", []TokenKind{TokenLte, TokenEOF}},
		{"&&", []TokenKind{TokenAnd, TokenEOF}},
		{"||", []TokenKind{TokenOr, TokenEOF}},
		{"??", []TokenKind{TokenNullCoal, TokenEOF}},
		{"+ - * / %", []TokenKind{TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent, TokenEOF}},
		{"max(a, 1)", []TokenKind{TokenIdent, TokenLParen, TokenIdent, TokenComma, TokenNumber, TokenRParen, TokenEOF}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens, err := Lex(tt.input)
			if err != nil {
				t.Fatalf("Lex(%q) error: %v", tt.input, err)
			}
			if len(tokens) != len(tt.kinds) {
				t.Fatalf("Lex(%q) got %d tokens, want %d", tt.input, len(tokens), len(tt.kinds))
			}
			for i, want := range tt.kinds {
				if tokens[i].Kind != want {
					t.Errorf("token[%d] got %s, want %s", i, tokens[i].Kind, want)
				}
			}
		})
	}
}

func TestLex_Numbers(t *testing.T) {
	for _, in := range []string{"0", "42", "3.5", ".5", "1e3", "2.5E-2"} {
		tokens, err := Lex(in)
		if err != nil {
			t.Fatalf("Lex(%q) error: %v", in, err)
		}
		if tokens[0].Kind != TokenNumber || tokens[0].Value != in {
			t.Errorf("Lex(%q) = %+v", in, tokens[0])
		}
	}
}

func TestLex_Errors(t *testing.T) {
	for _, in := range []string{`"open`, "a # b", "a = b"} {
		if _, err := Lex(in); err == nil {
			t.Errorf("Lex(%q) expected error", in)
		}
	}
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"a - b - c", "((a - b) - c)"},
		{"-a * b", "((-a) * b)"},
		{"a < b + 1 && c", "((a < (b + 1)) && c)"},
		{"a ?? b || c", "(a ?? (b || c))"},
		{"x.y[0] % 2 == 1", "((x.y[0] % 2) == 1)"},
		{"max(step, 2) + 1", "(max(step, 2) + 1)"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ast, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if got := ast.String(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"",
		"1 +",
		"(1 + 2",
		"a b",
		"nope(1)",
		"max(1,",
		"a.",
	}
	for _, in := range tests {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error", in)
		}
	}
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

func TestEval_Arithmetic(t *testing.T) {
	vars := map[string]any{"step": 3, "n": 10.0}
	tests := []struct {
		input string
		want  float64
	}{
		{"1 + 2 * 3", 7},
		{"n / 4", 2.5},
		{"n % 3", 1},
		{"-step + 1", -2},
		{"step * 2 - 1", 5},
		{"floor(n / 3)", 3},
		{"ceil(n / 3)", 4},
		{"max(step, 5, 1)", 5},
		{"min(step, 5)", 3},
		{"abs(-2)", 2},
		{"len([1, 2, 3])", 3},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assertFloat64(t, tt.input, evalExpr(t, tt.input, vars), tt.want)
		})
	}
}

func TestEval_Comparisons(t *testing.T) {
	vars := map[string]any{"step": 2, "name": "b", "tags": []any{"x", "y"}}
	tests := []struct {
		input string
		want  bool
	}{
		{"step < 3", true},
		{"step >= 3", false},
		{"step == 2.0", true},
		{"name > 'a'", true},
		{"'x' in tags", true},
		{"'z' in tags", false},
		{"!(step != 2)", true},
		{"missing == null", true},
		{"step < 3 && name == 'b'", true},
		{"step > 3 || false", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assertBool(t, tt.input, evalExpr(t, tt.input, vars), tt.want)
		})
	}
}

func TestEval_NullCoalescing(t *testing.T) {
	got := evalExpr(t, "limit ?? 4", nil)
	assertFloat64(t, "coalesce", got, 4)

	got = evalExpr(t, "limit ?? 4", map[string]any{"limit": 7.0})
	assertFloat64(t, "coalesce", got, 7)
}

func TestEval_MemberAndIndex(t *testing.T) {
	vars := map[string]any{
		"stats":   map[string]any{"mean": 1.5},
		"samples": []float64{4, 5, 6},
		"weights": map[string]float64{"a": 0.25},
	}
	assertFloat64(t, "member", evalExpr(t, "stats.mean", vars), 1.5)
	assertFloat64(t, "index", evalExpr(t, "samples[1]", vars), 5)
	assertFloat64(t, "typed map", evalExpr(t, "weights.a", vars), 0.25)
	assertFloat64(t, "length", evalExpr(t, "samples.length", vars), 3)
	if got := evalExpr(t, "samples[9]", vars); got != nil {
		t.Errorf("out of range index: got %v", got)
	}
}

func TestEval_StringConcat(t *testing.T) {
	got := evalExpr(t, "'a' + 'b'", nil)
	if got != "ab" {
		t.Errorf("got %v", got)
	}
}

func TestEval_Errors(t *testing.T) {
	tests := []struct {
		input string
		is    error
	}{
		{"1 / 0", ErrDivisionByZero},
		{"5 % 0", ErrDivisionByZero},
		{"'a' * 2", nil},
		{"-'a'", nil},
		{"sqrt('x')", nil},
		{"abs(1, 2)", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := EvalString(tt.input, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected %v, got %v", tt.is, err)
			}
		})
	}
}

func TestEval_ChainResolver(t *testing.T) {
	calls := []string{}
	scoped := ResolverFunc(func(name string) (any, bool) {
		calls = append(calls, name)
		if name == "Counter" {
			return 6.0, true
		}
		return nil, false
	})
	r := Chain(MapResolver{"step": 2}, nil, scoped)

	got, err := EvalString("Counter / step", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertFloat64(t, "chain", got, 3)
	if !reflect.DeepEqual(calls, []string{"Counter"}) {
		t.Errorf("scoped resolver consulted for %v", calls)
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		val  any
		want bool
	}{
		{nil, false},
		{false, false},
		{0, false},
		{0.0, false},
		{int64(3), true},
		{"", false},
		{"x", true},
		{[]any{}, false},
		{[]float64{1}, true},
		{map[string]any{}, false},
		{struct{}{}, true},
	}
	for _, tt := range tests {
		if got := IsTruthy(tt.val); got != tt.want {
			t.Errorf("IsTruthy(%#v) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestValidateSyntax(t *testing.T) {
	if err := ValidateSyntax("step < 10"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateSyntax("step <")
	if err == nil || !strings.Contains(err.Error(), "unexpected token") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestIdentifiers(t *testing.T) {
	ast, err := Parse("max(Counter, step) + stats.mean * w[i] + 1")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	got := Identifiers(ast)
	want := []string{"Counter", "i", "stats", "step", "w"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
