package planner

import "github.com/n9te9/graphql-parser/ast"

// DefaultMaxDepth is the recursion-depth guard applied to every
// non-introspection operation; it can be overridden via PlanOptions.
const DefaultMaxDepth = 24

// selectionDepth counts nesting across field selections, inline
// fragments, and fragment spreads, guarding against runaway recursion
// through deeply nested or cyclic selection sets. Introspection
// operations bypass this check entirely (see Plan).
func selectionDepth(selections []ast.Selection, fragments map[string]*ast.FragmentDefinition, seen map[string]bool) int {
	best := 0
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			d := 1
			if len(s.SelectionSet) > 0 {
				d += selectionDepth(s.SelectionSet, fragments, seen)
			}
			if d > best {
				best = d
			}
		case *ast.InlineFragment:
			d := selectionDepth(s.SelectionSet, fragments, seen)
			if d > best {
				best = d
			}
		case *ast.FragmentSpread:
			name := s.Name.String()
			if seen[name] {
				continue // cyclic fragment spread; do not recurse infinitely
			}
			frag, ok := fragments[name]
			if !ok {
				continue
			}
			seen[name] = true
			d := selectionDepth(frag.SelectionSet, fragments, seen)
			delete(seen, name)
			if d > best {
				best = d
			}
		}
	}
	return best
}
