package relstore

import (
	"context"
	"fmt"
	"strings"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

var sqlOperators = map[query.Operator]string{
	query.OpEQ:  "=",
	query.OpNE:  "<>",
	query.OpGT:  ">",
	query.OpGTE: ">=",
	query.OpLT:  "<",
	query.OpLTE: "<=",
}

// buildWhere renders a filter into a WHERE clause over the aliased main
// table t. The returned string is empty or begins with " WHERE ".
func (s *Store) buildWhere(col string, spec map[string]fieldClass, f query.Filter) (string, []any, error) {
	var conds []string
	var args []any

	if f.IDs != nil {
		if len(f.IDs) == 0 {
			conds = append(conds, "1 = 0")
		} else {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.IDs)), ",")
			conds = append(conds, fmt.Sprintf("t.id IN (%s)", placeholders))
			for _, id := range f.IDs {
				args = append(args, id)
			}
		}
	}
	for field, val := range map[string]string{
		storage.FieldProjectID:    f.ProjectID,
		storage.FieldExperimentID: f.ExperimentID,
	} {
		if val == "" {
			continue
		}
		if class, ok := spec[field]; !ok || class != classText {
			return "", nil, domain.Errorf(domain.CodeInvalidArgument,
				"collection %s has no %s scope", col, field)
		}
		conds = append(conds, fmt.Sprintf("t.%s = ?", field))
		args = append(args, val)
	}
	for _, clause := range f.Clauses {
		cond, condArgs, err := s.buildClause(col, spec, clause)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
		args = append(args, condArgs...)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (s *Store) buildClause(col string, spec map[string]fieldClass, c query.Clause) (string, []any, error) {
	class, ok := spec[c.Field]
	if !ok {
		return "", nil, domain.Errorf(domain.CodeInvalidArgument,
			"collection %s has no field %q", col, c.Field)
	}
	if c.ElemKey != "" {
		if class != classKV {
			return "", nil, domain.Errorf(domain.CodeUnimplemented,
				"relational backend cannot element-match %s.%s", c.Field, c.ElemKey)
		}
		return s.buildElementMatch(col, c)
	}
	switch class {
	case classText:
		if c.Value.Kind() != domain.KindString {
			// Kind mismatch against a text column can never match.
			return "1 = 0", nil, nil
		}
		if c.Op == query.OpContain {
			return fmt.Sprintf("t.%s LIKE ?", c.Field), []any{"%" + c.Value.String() + "%"}, nil
		}
		op, ok := sqlOperators[c.Op]
		if !ok {
			return "", nil, domain.Errorf(domain.CodeInvalidArgument, "unknown operator %q", c.Op)
		}
		return fmt.Sprintf("t.%s %s ?", c.Field, op), []any{c.Value.String()}, nil
	case classTime:
		micros, err := timePredicateMicros(c.Value)
		if err != nil {
			return "", nil, err
		}
		op, ok := sqlOperators[c.Op]
		if !ok {
			return "", nil, domain.Errorf(domain.CodeInvalidArgument,
				"operator %q is not defined for timestamp fields", c.Op)
		}
		return fmt.Sprintf("t.%s %s ?", c.Field, op), []any{micros}, nil
	default:
		return "", nil, domain.Errorf(domain.CodeUnimplemented,
			"relational backend cannot filter %s by %q", col, c.Field)
	}
}

func (s *Store) buildElementMatch(col string, c query.Clause) (string, []any, error) {
	args := []any{col, c.Field, c.ElemKey}
	var valueCond string
	switch c.Value.Kind() {
	case domain.KindNumber:
		op, ok := sqlOperators[c.Op]
		if !ok {
			return "", nil, domain.Errorf(domain.CodeInvalidArgument, "unknown operator %q", c.Op)
		}
		valueCond = fmt.Sprintf("k.value_kind = 'number' AND k.num_value %s ?", op)
		args = append(args, c.Value.Number())
	case domain.KindString:
		if c.Op == query.OpContain {
			valueCond = "k.value_kind = 'string' AND k.str_value LIKE ?"
			args = append(args, "%"+c.Value.String()+"%")
			break
		}
		op, ok := sqlOperators[c.Op]
		if !ok {
			return "", nil, domain.Errorf(domain.CodeInvalidArgument, "unknown operator %q", c.Op)
		}
		valueCond = fmt.Sprintf("k.value_kind = 'string' AND k.str_value %s ?", op)
		args = append(args, c.Value.String())
	case domain.KindBool:
		var op string
		switch c.Op {
		case query.OpEQ:
			op = "="
		case query.OpNE:
			op = "<>"
		default:
			return "", nil, domain.Errorf(domain.CodeInvalidArgument,
				"operator %s is not defined for bool values", c.Op)
		}
		b := int64(0)
		if c.Value.Bool() {
			b = 1
		}
		valueCond = fmt.Sprintf("k.value_kind = 'bool' AND k.bool_value %s ?", op)
		args = append(args, b)
	default:
		return "", nil, domain.Errorf(domain.CodeUnimplemented,
			"unsupported value kind %q (supported kinds: number, string, bool)", c.Value.Kind())
	}
	cond := fmt.Sprintf(`EXISTS (SELECT 1 FROM kv_entries k
		WHERE k.owner_collection = ? AND k.owner_id = t.id AND k.field = ? AND k.key = ? AND %s)`, valueCond)
	return cond, args, nil
}

// timePredicateMicros converts a predicate value aimed at a timestamp column
// into epoch microseconds. Strings are RFC3339; numbers are taken as epoch
// milliseconds, matching the wire convention for start/end times.
func timePredicateMicros(v domain.Value) (int64, error) {
	switch v.Kind() {
	case domain.KindString:
		return timeMicros(v.String())
	case domain.KindNumber:
		return int64(v.Number() * 1000), nil
	default:
		return 0, domain.Errorf(domain.CodeInvalidArgument,
			"timestamp predicates take string or number values, got %q", v.Kind())
	}
}

// SortedIDs runs the flatten pipeline as a join against the kv child table:
// unwind becomes the join, the element filter and scope become WHERE, the
// sort becomes ORDER BY over the typed value columns, and the projection
// selects owner identifiers. Owners are deduplicated at their best-ranked
// position before the limit is applied.
func (s *Store) SortedIDs(ctx context.Context, col string, p query.Pipeline) ([]string, error) {
	spec, err := s.spec(col)
	if err != nil {
		return nil, err
	}
	if class, ok := spec[p.Unwind]; !ok || class != classKV {
		return nil, domain.Errorf(domain.CodeUnimplemented,
			"relational backend cannot pipeline over %s.%s", col, p.Unwind)
	}
	dir := "DESC"
	if p.Ascending {
		dir = "ASC"
	}
	var orderBy string
	switch p.ElemField {
	case "value":
		orderBy = fmt.Sprintf(
			"CASE k.value_kind WHEN 'number' THEN 1 WHEN 'string' THEN 2 ELSE 3 END %[1]s, k.num_value %[1]s, k.str_value %[1]s, k.bool_value %[1]s",
			dir)
	case "key":
		orderBy = fmt.Sprintf("k.key %s", dir)
	default:
		return nil, domain.Errorf(domain.CodeUnimplemented,
			"relational backend cannot sort elements by %q", p.ElemField)
	}
	where, scopeArgs, err := s.buildWhere(col, spec, p.Scope)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`SELECT t.id FROM %s t
		JOIN kv_entries k ON k.owner_collection = ? AND k.owner_id = t.id AND k.field = ?%s
		ORDER BY %s`, col, where, orderBy)
	args := append([]any{col, p.Unwind}, scopeArgs...)
	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return nil, domain.WrapInternal("pipeline", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	seen := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.WrapInternal("scan pipeline id", err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		if p.Limit > 0 && len(ids) == p.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapInternal("pipeline", err)
	}
	return ids, nil
}
