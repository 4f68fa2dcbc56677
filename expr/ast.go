// Package expr provides a small, safe expression language for iteration
// counts, loop conditions and expression processes in Strata models.
// Expressions are stateless and side-effect-free.
package expr

import (
	"fmt"
	"strings"
)

// Expr is the interface implemented by all AST nodes.
type Expr interface {
	expr() // marker method
	String() string
}

// BinaryExpr represents a binary operation (e.g. a + b, a && b).
type BinaryExpr struct {
	Left  Expr
	Op    TokenKind
	Right Expr
}

func (e *BinaryExpr) expr() {}
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

// UnaryExpr represents a unary operation (e.g. !a, -a).
type UnaryExpr struct {
	Op      TokenKind
	Operand Expr
}

func (e *UnaryExpr) expr() {}
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("(%s%s)", e.Op, e.Operand)
}

// LiteralExpr represents a literal value (number, string, bool, null).
type LiteralExpr struct {
	Value any // float64, string, bool, or nil
}

func (e *LiteralExpr) expr() {}
func (e *LiteralExpr) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IdentExpr represents an identifier (e.g. step, Counter).
type IdentExpr struct {
	Name string
}

func (e *IdentExpr) expr() {}
func (e *IdentExpr) String() string {
	return e.Name
}

// MemberExpr represents property access (e.g. stats.mean).
type MemberExpr struct {
	Object   Expr
	Property string
}

func (e *MemberExpr) expr() {}
func (e *MemberExpr) String() string {
	return fmt.Sprintf("%s.%s", e.Object, e.Property)
}

// IndexExpr represents element access (e.g. samples[0]).
type IndexExpr struct {
	Object Expr
	Index  Expr
}

func (e *IndexExpr) expr() {}
func (e *IndexExpr) String() string {
	return fmt.Sprintf("%s[%s]", e.Object, e.Index)
}

// ArrayLiteral represents an inline array (e.g. [1, 2]).
type ArrayLiteral struct {
	Elements []Expr
}

func (e *ArrayLiteral) expr() {}
func (e *ArrayLiteral) String() string {
	return fmt.Sprintf("[%d elements]", len(e.Elements))
}

// CallExpr represents a built-in function call (e.g. max(a, 3)).
type CallExpr struct {
	Func string
	Args []Expr
}

func (e *CallExpr) expr() {}
func (e *CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Func, strings.Join(args, ", "))
}
