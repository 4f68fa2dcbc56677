package expr

import (
	"fmt"
	"strconv"
)

// Parse parses an expression string into an AST.
func Parse(input string) (Expr, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.current().Kind == TokenEOF {
		return nil, fmt.Errorf("empty expression")
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.current().Kind != TokenEOF {
		return nil, fmt.Errorf("unexpected token %s at position %d", p.current().Kind, p.current().Pos)
	}
	return expr, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) peek() Token {
	if p.pos+1 >= len(p.tokens) {
		return Token{Kind: TokenEOF}
	}
	return p.tokens[p.pos+1]
}

func (p *parser) advance() Token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.current()
	if tok.Kind != kind {
		return tok, fmt.Errorf("expected %s but got %s at position %d", kind, tok.Kind, tok.Pos)
	}
	p.advance()
	return tok, nil
}

// Precedence levels (low to high):
// 1. ??  (null coalescing)
// 2. || (logical or)
// 3. && (logical and)
// 4. ==, != (equality)
// 5. <, >, <=, >= (comparison)
// 6. in (membership)
// 7. +, - (additive)
// 8. *, /, % (multiplicative)
// 9. !, - (unary)
// 10. member access, index access, calls (postfix)

func (p *parser) parseExpr() (Expr, error) {
	return p.parseNullCoalescing()
}

// binaryLevel parses a left-associative chain of operators drawn from ops,
// with operands produced by next.
func (p *parser) binaryLevel(next func() (Expr, error), ops ...TokenKind) (Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for p.isOneOf(ops) {
		op := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op.Kind, Right: right}
	}
	return left, nil
}

func (p *parser) isOneOf(kinds []TokenKind) bool {
	cur := p.current().Kind
	for _, k := range kinds {
		if cur == k {
			return true
		}
	}
	return false
}

func (p *parser) parseNullCoalescing() (Expr, error) {
	return p.binaryLevel(p.parseOr, TokenNullCoal)
}

func (p *parser) parseOr() (Expr, error) {
	return p.binaryLevel(p.parseAnd, TokenOr)
}

func (p *parser) parseAnd() (Expr, error) {
	return p.binaryLevel(p.parseEquality, TokenAnd)
}

func (p *parser) parseEquality() (Expr, error) {
	return p.binaryLevel(p.parseComparison, TokenEq, TokenNeq)
}

func (p *parser) parseComparison() (Expr, error) {
	return p.binaryLevel(p.parseMembership, TokenGt, TokenGte, TokenLt, TokenLte)
}

func (p *parser) parseMembership() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.current().Kind == TokenIn {
		op := p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op.Kind, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	return p.binaryLevel(p.parseMultiplicative, TokenPlus, TokenMinus)
}

func (p *parser) parseMultiplicative() (Expr, error) {
	return p.binaryLevel(p.parseUnary, TokenStar, TokenSlash, TokenPercent)
}

func (p *parser) parseUnary() (Expr, error) {
	if k := p.current().Kind; k == TokenNot || k == TokenMinus {
		op := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op.Kind, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.current().Kind {
		case TokenDot:
			p.advance()
			tok := p.current()
			if tok.Kind != TokenIdent && !isKeywordToken(tok.Kind) {
				return nil, fmt.Errorf("expected property name but got %s at position %d", tok.Kind, tok.Pos)
			}
			p.advance()
			expr = &MemberExpr{Object: expr, Property: tok.Value}

		case TokenLBracket:
			p.advance()
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			expr = &IndexExpr{Object: expr, Index: index}

		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.current()

	switch tok.Kind {
	case TokenNumber:
		p.advance()
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.Value, tok.Pos)
		}
		return &LiteralExpr{Value: val}, nil

	case TokenString:
		p.advance()
		return &LiteralExpr{Value: tok.Value}, nil

	case TokenTrue:
		p.advance()
		return &LiteralExpr{Value: true}, nil

	case TokenFalse:
		p.advance()
		return &LiteralExpr{Value: false}, nil

	case TokenNull:
		p.advance()
		return &LiteralExpr{Value: nil}, nil

	case TokenIdent:
		if p.peek().Kind == TokenLParen {
			return p.parseCall()
		}
		p.advance()
		return &IdentExpr{Name: tok.Value}, nil

	case TokenLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	case TokenLBracket:
		return p.parseArrayLiteral()

	default:
		return nil, fmt.Errorf("unexpected token %s at position %d", tok.Kind, tok.Pos)
	}
}

func (p *parser) parseCall() (Expr, error) {
	name := p.advance()
	if _, ok := builtins[name.Value]; !ok {
		return nil, fmt.Errorf("unknown function %q at position %d", name.Value, name.Pos)
	}
	p.advance() // skip (

	args, err := p.parseList(TokenRParen)
	if err != nil {
		return nil, err
	}
	return &CallExpr{Func: name.Value, Args: args}, nil
}

func (p *parser) parseArrayLiteral() (Expr, error) {
	p.advance() // skip [
	elements, err := p.parseList(TokenRBracket)
	if err != nil {
		return nil, err
	}
	return &ArrayLiteral{Elements: elements}, nil
}

// parseList parses comma-separated expressions up to and including end.
func (p *parser) parseList(end TokenKind) ([]Expr, error) {
	var elements []Expr
	if p.current().Kind == end {
		p.advance()
		return elements, nil
	}

	for {
		elem, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elements = append(elements, elem)

		if p.current().Kind != TokenComma {
			break
		}
		p.advance() // skip comma
	}

	if _, err := p.expect(end); err != nil {
		return nil, err
	}
	return elements, nil
}

func isKeywordToken(kind TokenKind) bool {
	switch kind {
	case TokenIn, TokenTrue, TokenFalse, TokenNull:
		return true
	}
	return false
}
