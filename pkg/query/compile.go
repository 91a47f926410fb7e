package query

import (
	"strings"

	"modeldb/pkg/domain"
)

// CompileOptions tunes predicate compilation behaviors that exist for
// compatibility with older clients.
type CompileOptions struct {
	// KeepEmptyStringPredicates disables the legacy behavior of silently
	// dropping predicates whose value is the empty string. When false
	// (the default) such predicates are skipped, not applied.
	KeepEmptyStringPredicates bool
}

// Compile turns caller-supplied predicates into AND-combined filter clauses.
//
// Rules:
//   - value kinds outside {number, string, bool} fail with unimplemented;
//   - empty-string values drop the predicate unless KeepEmptyStringPredicates;
//   - a non-empty input list that compiles to zero clauses fails with
//     invalid-argument, so callers never mistake "all filters dropped" for
//     "no filters requested";
//   - a dotted key compiles to an element-match clause on the named sub-list,
//     using the trailing path segment as the element key.
func Compile(preds []Predicate, opts CompileOptions) ([]Clause, error) {
	if len(preds) == 0 {
		return nil, nil
	}
	clauses := make([]Clause, 0, len(preds))
	for _, p := range preds {
		if p.Key == "" {
			return nil, domain.Errorf(domain.CodeInvalidArgument, "predicate key cannot be empty")
		}
		if !p.Op.Valid() {
			return nil, domain.Errorf(domain.CodeInvalidArgument, "unknown predicate operator %q", p.Op)
		}
		switch p.Value.Kind() {
		case domain.KindNumber, domain.KindBool:
		case domain.KindString:
			if p.Value.String() == "" && !opts.KeepEmptyStringPredicates {
				continue
			}
		default:
			return nil, domain.Errorf(domain.CodeUnimplemented,
				"predicate on key %q carries unsupported value kind %q (supported kinds: number, string, bool)",
				p.Key, p.Value.Kind())
		}
		clauses = append(clauses, compileKey(p))
	}
	if len(clauses) == 0 {
		return nil, domain.Errorf(domain.CodeInvalidArgument,
			"all %d predicates were dropped (empty string values); refusing to run an unfiltered find", len(preds))
	}
	return clauses, nil
}

func compileKey(p Predicate) Clause {
	i := strings.Index(p.Key, ".")
	if i < 0 {
		return Clause{Field: p.Key, Op: p.Op, Value: p.Value}
	}
	// One level of nesting is supported; for deeper paths the trailing
	// segment names the element key.
	j := strings.LastIndex(p.Key, ".")
	return Clause{Field: p.Key[:i], ElemKey: p.Key[j+1:], Op: p.Op, Value: p.Value}
}
