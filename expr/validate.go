package expr

import "sort"

// ValidateSyntax checks whether an expression string is syntactically valid.
// Returns nil if valid, or a parse error describing the problem.
func ValidateSyntax(expression string) error {
	_, err := Parse(expression)
	return err
}

// Identifiers returns the sorted, de-duplicated top-level identifiers an
// expression refers to. Member names and function names are not included.
func Identifiers(e Expr) []string {
	seen := map[string]struct{}{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *IdentExpr:
			seen[n.Name] = struct{}{}
		case *MemberExpr:
			walk(n.Object)
		case *IndexExpr:
			walk(n.Object)
			walk(n.Index)
		case *ArrayLiteral:
			for _, el := range n.Elements {
				walk(el)
			}
		case *CallExpr:
			for _, a := range n.Args {
				walk(a)
			}
		case *UnaryExpr:
			walk(n.Operand)
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		}
	}
	walk(e)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
