package reconstruct

import (
	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// lowerMatches rewrites if/elif chains that compare one pure subject
// against constants into Match nodes. A trailing else becomes the
// wildcard arm, so chains with an else need the wildcard feature.
func lowerMatches(n ast.Node, wildcard bool, minArms int) {
	if s, ok := n.(*ast.Sequence); ok {
		for i, c := range s.Body {
			if ifn, ok := c.(*ast.If); ok {
				if m := matchChain(ifn, wildcard, minArms); m != nil {
					s.Body[i] = m
				}
			}
		}
	}
	for _, c := range ast.Children(n) {
		lowerMatches(c, wildcard, minArms)
	}
}

func matchChain(head *ast.If, wildcard bool, minArms int) *ast.Match {
	m := &ast.Match{}
	cur := head
	for {
		subject, pattern, ok := equalityTest(cur.Cond)
		if !ok || (m.Subject != nil && !ast.Equal(m.Subject, subject)) {
			break
		}
		m.Subject = subject
		m.Arms = append(m.Arms, ast.MatchArm{Pattern: pattern, Body: cur.Then})
		m.Own(cur.Span...)
		if cur.Else == nil {
			cur = nil
			break
		}
		next, chained := elif(cur.Else)
		if !chained {
			m.Default = cur.Else
			cur = nil
			break
		}
		m.Own(cur.Else.Span...)
		cur = next
	}
	if cur != nil {
		// The chain ended at an if that tests something else.
		m.Default = &ast.Sequence{Body: []ast.Node{cur}}
	}

	if len(m.Arms) < minArms || (m.Default != nil && !wildcard) {
		return nil
	}
	return m
}

// elif returns the single if of an else arm.
func elif(s *ast.Sequence) (*ast.If, bool) {
	if len(s.Body) != 1 {
		return nil, false
	}
	n, ok := s.Body[0].(*ast.If)
	return n, ok
}

// equalityTest splits `subject == constant`.
func equalityTest(e ast.Expr) (subject, pattern ast.Expr, ok bool) {
	b, isBin := e.(*ast.Binary)
	if !isBin || b.Op != registry.OpEq {
		return nil, nil, false
	}
	if isPattern(b.R) && ast.Pure(b.L) && !isPattern(b.L) {
		return b.L, b.R, true
	}
	if isPattern(b.L) && ast.Pure(b.R) && !isPattern(b.R) {
		return b.R, b.L, true
	}
	return nil, nil, false
}

func isPattern(e ast.Expr) bool {
	c, ok := e.(*ast.Const)
	if !ok {
		return false
	}
	switch c.Value.Kind {
	case bytecode.ConstNil, bytecode.ConstBool, bytecode.ConstInt, bytecode.ConstFloat, bytecode.ConstString:
		return true
	}
	return false
}
