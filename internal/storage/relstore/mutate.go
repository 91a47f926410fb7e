package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// Update applies one declarative mutation inside a transaction. The returned
// count is normalized to 0 or 1: zero means the row was absent or, for
// element-level operations, that nothing changed.
func (s *Store) Update(ctx context.Context, col, id string, u query.Update) (int64, error) {
	spec, err := s.spec(col)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.WrapInternal("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	switch u.Kind {
	case query.UpdateSet:
		affected, err = s.applySet(ctx, tx, col, spec, id, u.Set)
	case query.UpdatePush:
		affected, err = s.applyPush(ctx, tx, col, spec, id, u)
	case query.UpdatePullKeys:
		affected, err = s.applyPullKeys(ctx, tx, col, spec, id, u)
	case query.UpdatePullValues:
		affected, err = s.applyPullValues(ctx, tx, col, spec, id, u)
	case query.UpdateClear:
		affected, err = s.applyClear(ctx, tx, col, spec, id, u)
	case query.UpdateAddUnique:
		affected, err = s.applyAddUnique(ctx, tx, col, spec, id, u)
	default:
		err = domain.Errorf(domain.CodeInvalidArgument, "unknown update kind %q", u.Kind)
	}
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.WrapInternal("commit update", err)
	}
	if affected > 0 {
		affected = 1
	}
	return affected, nil
}

func (s *Store) applySet(ctx context.Context, tx *sql.Tx, col string, spec map[string]fieldClass, id string, set map[string]any) (int64, error) {
	if len(set) == 0 {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "set update carries no fields")
	}
	fields := make([]string, 0, len(set))
	for field := range set {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	assigns := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, field := range fields {
		class, ok := spec[field]
		if !ok {
			return 0, domain.Errorf(domain.CodeInvalidArgument, "collection %s has no field %q", col, field)
		}
		switch class {
		case classText:
			v, ok := set[field].(string)
			if !ok {
				return 0, domain.Errorf(domain.CodeInvalidArgument, "field %q takes a string", field)
			}
			args = append(args, v)
		case classTime:
			micros, err := timeMicros(set[field])
			if err != nil {
				return 0, err
			}
			args = append(args, micros)
		case classJSON:
			raw, err := json.Marshal(listOrEmpty(set[field]))
			if err != nil {
				return 0, domain.WrapInternal("encode json column", err)
			}
			args = append(args, string(raw))
		default:
			return 0, domain.Errorf(domain.CodeInvalidArgument,
				"field %q is a sub-list; use an element-level update", field)
		}
		assigns = append(assigns, fmt.Sprintf("%s = ?", field))
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", col, strings.Join(assigns, ", "))
	res, err := tx.ExecContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return 0, domain.WrapInternal("set fields", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) applyPush(ctx context.Context, tx *sql.Tx, col string, spec map[string]fieldClass, id string, u query.Update) (int64, error) {
	class, ok := spec[u.Field]
	if !ok {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "collection %s has no field %q", col, u.Field)
	}
	switch class {
	case classKV:
		kv, err := decodeKeyValue(u.Element)
		if err != nil {
			return 0, err
		}
		num, str, boolInt := valueColumns(kv.Value)
		stmt := fmt.Sprintf(`INSERT INTO kv_entries (owner_collection, owner_id, field, position, key, value_kind, num_value, str_value, bool_value)
			SELECT ?, ?, ?, %s, ?, ?, ?, ?, ?
			WHERE EXISTS (SELECT 1 FROM %s WHERE id = ?)`, nextPosition("kv_entries"), col)
		return execAffected(ctx, tx, s.rebind(stmt),
			col, id, u.Field, col, id, u.Field, kv.Key, string(kv.Value.Kind()), num, str, boolInt, id)
	case classTag:
		tag, ok := u.Element.(string)
		if !ok {
			return 0, domain.Errorf(domain.CodeInvalidArgument, "tag entries must be strings, got %T", u.Element)
		}
		stmt := fmt.Sprintf(`INSERT INTO tag_entries (owner_collection, owner_id, field, position, tag)
			SELECT ?, ?, ?, %s, ?
			WHERE EXISTS (SELECT 1 FROM %s WHERE id = ?)`, nextPosition("tag_entries"), col)
		return execAffected(ctx, tx, s.rebind(stmt), col, id, u.Field, col, id, u.Field, tag, id)
	case classArtifact:
		art, err := decodeArtifact(u.Element)
		if err != nil {
			return 0, err
		}
		stmt := fmt.Sprintf(`INSERT INTO artifact_entries (owner_collection, owner_id, field, position, key, path, artifact_type)
			SELECT ?, ?, ?, %s, ?, ?, ?
			WHERE EXISTS (SELECT 1 FROM %s WHERE id = ?)`, nextPosition("artifact_entries"), col)
		return execAffected(ctx, tx, s.rebind(stmt),
			col, id, u.Field, col, id, u.Field, art.Key, art.Path, string(art.Type), id)
	case classJSON:
		list, found, err := s.readJSONList(ctx, tx, col, u.Field, id)
		if err != nil || !found {
			return 0, err
		}
		return 1, s.writeJSONList(ctx, tx, col, u.Field, id, append(list, u.Element))
	default:
		return 0, domain.Errorf(domain.CodeInvalidArgument, "field %q is not a sub-list", u.Field)
	}
}

func (s *Store) applyPullKeys(ctx context.Context, tx *sql.Tx, col string, spec map[string]fieldClass, id string, u query.Update) (int64, error) {
	if len(u.Keys) == 0 {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "pull update carries no keys")
	}
	var table string
	switch spec[u.Field] {
	case classKV:
		table = "kv_entries"
	case classArtifact:
		table = "artifact_entries"
	default:
		return 0, domain.Errorf(domain.CodeInvalidArgument, "field %q has no keyed elements", u.Field)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(u.Keys)), ",")
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE owner_collection = ? AND owner_id = ? AND field = ? AND key IN (%s)`,
		table, placeholders)
	args := []any{col, id, u.Field}
	for _, k := range u.Keys {
		args = append(args, k)
	}
	return execAffected(ctx, tx, s.rebind(stmt), args...)
}

func (s *Store) applyPullValues(ctx context.Context, tx *sql.Tx, col string, spec map[string]fieldClass, id string, u query.Update) (int64, error) {
	if len(u.Values) == 0 {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "pull update carries no values")
	}
	class, ok := spec[u.Field]
	if !ok {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "collection %s has no field %q", col, u.Field)
	}
	var total int64
	switch class {
	case classTag:
		for _, raw := range u.Values {
			tag, ok := raw.(string)
			if !ok {
				return 0, domain.Errorf(domain.CodeInvalidArgument, "tag entries must be strings, got %T", raw)
			}
			n, err := execAffected(ctx, tx, s.rebind(
				`DELETE FROM tag_entries WHERE owner_collection = ? AND owner_id = ? AND field = ? AND tag = ?`),
				col, id, u.Field, tag)
			if err != nil {
				return 0, err
			}
			total += n
		}
	case classKV:
		for _, raw := range u.Values {
			kv, err := decodeKeyValue(raw)
			if err != nil {
				return 0, err
			}
			stmt, args := kvMatch(`DELETE FROM kv_entries WHERE owner_collection = ? AND owner_id = ? AND field = ?`,
				[]any{col, id, u.Field}, kv)
			n, err := execAffected(ctx, tx, s.rebind(stmt), args...)
			if err != nil {
				return 0, err
			}
			total += n
		}
	case classArtifact:
		for _, raw := range u.Values {
			art, err := decodeArtifact(raw)
			if err != nil {
				return 0, err
			}
			n, err := execAffected(ctx, tx, s.rebind(
				`DELETE FROM artifact_entries WHERE owner_collection = ? AND owner_id = ? AND field = ? AND key = ? AND path = ? AND artifact_type = ?`),
				col, id, u.Field, art.Key, art.Path, string(art.Type))
			if err != nil {
				return 0, err
			}
			total += n
		}
	case classJSON:
		list, found, err := s.readJSONList(ctx, tx, col, u.Field, id)
		if err != nil || !found {
			return 0, err
		}
		drop := make(map[string]struct{}, len(u.Values))
		for _, raw := range u.Values {
			c, err := canonicalJSON(raw)
			if err != nil {
				return 0, err
			}
			drop[c] = struct{}{}
		}
		kept := list[:0]
		for _, elem := range list {
			c, err := canonicalJSON(elem)
			if err != nil {
				return 0, err
			}
			if _, rm := drop[c]; rm {
				total++
				continue
			}
			kept = append(kept, elem)
		}
		if total == 0 {
			return 0, nil
		}
		return total, s.writeJSONList(ctx, tx, col, u.Field, id, kept)
	default:
		return 0, domain.Errorf(domain.CodeInvalidArgument, "field %q is not a sub-list", u.Field)
	}
	return total, nil
}

func (s *Store) applyClear(ctx context.Context, tx *sql.Tx, col string, spec map[string]fieldClass, id string, u query.Update) (int64, error) {
	var table string
	switch spec[u.Field] {
	case classKV:
		table = "kv_entries"
	case classTag:
		table = "tag_entries"
	case classArtifact:
		table = "artifact_entries"
	case classJSON:
		return execAffected(ctx, tx, s.rebind(
			fmt.Sprintf(`UPDATE %s SET %s = '[]' WHERE id = ? AND %s <> '[]'`, col, u.Field, u.Field)), id)
	default:
		return 0, domain.Errorf(domain.CodeInvalidArgument, "field %q is not a sub-list", u.Field)
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE owner_collection = ? AND owner_id = ? AND field = ?`, table)
	return execAffected(ctx, tx, s.rebind(stmt), col, id, u.Field)
}

func (s *Store) applyAddUnique(ctx context.Context, tx *sql.Tx, col string, spec map[string]fieldClass, id string, u query.Update) (int64, error) {
	if len(u.Values) == 0 {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "add update carries no values")
	}
	class, ok := spec[u.Field]
	if !ok {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "collection %s has no field %q", col, u.Field)
	}
	var total int64
	switch class {
	case classTag:
		for _, raw := range u.Values {
			tag, ok := raw.(string)
			if !ok {
				return 0, domain.Errorf(domain.CodeInvalidArgument, "tag entries must be strings, got %T", raw)
			}
			stmt := fmt.Sprintf(`INSERT INTO tag_entries (owner_collection, owner_id, field, position, tag)
				SELECT ?, ?, ?, %s, ?
				WHERE EXISTS (SELECT 1 FROM %s WHERE id = ?)
				AND NOT EXISTS (SELECT 1 FROM tag_entries WHERE owner_collection = ? AND owner_id = ? AND field = ? AND tag = ?)`,
				nextPosition("tag_entries"), col)
			n, err := execAffected(ctx, tx, s.rebind(stmt),
				col, id, u.Field, col, id, u.Field, tag, id, col, id, u.Field, tag)
			if err != nil {
				return 0, err
			}
			total += n
		}
	case classKV:
		for _, raw := range u.Values {
			kv, err := decodeKeyValue(raw)
			if err != nil {
				return 0, err
			}
			num, str, boolInt := valueColumns(kv.Value)
			dup, dupArgs := kvMatch(`SELECT 1 FROM kv_entries WHERE owner_collection = ? AND owner_id = ? AND field = ?`,
				[]any{col, id, u.Field}, kv)
			stmt := fmt.Sprintf(`INSERT INTO kv_entries (owner_collection, owner_id, field, position, key, value_kind, num_value, str_value, bool_value)
				SELECT ?, ?, ?, %s, ?, ?, ?, ?, ?
				WHERE EXISTS (SELECT 1 FROM %s WHERE id = ?)
				AND NOT EXISTS (%s)`, nextPosition("kv_entries"), col, dup)
			args := []any{col, id, u.Field, col, id, u.Field, kv.Key, string(kv.Value.Kind()), num, str, boolInt, id}
			args = append(args, dupArgs...)
			n, err := execAffected(ctx, tx, s.rebind(stmt), args...)
			if err != nil {
				return 0, err
			}
			total += n
		}
	case classArtifact:
		for _, raw := range u.Values {
			art, err := decodeArtifact(raw)
			if err != nil {
				return 0, err
			}
			stmt := fmt.Sprintf(`INSERT INTO artifact_entries (owner_collection, owner_id, field, position, key, path, artifact_type)
				SELECT ?, ?, ?, %s, ?, ?, ?
				WHERE EXISTS (SELECT 1 FROM %s WHERE id = ?)
				AND NOT EXISTS (SELECT 1 FROM artifact_entries WHERE owner_collection = ? AND owner_id = ? AND field = ? AND key = ? AND path = ? AND artifact_type = ?)`,
				nextPosition("artifact_entries"), col)
			n, err := execAffected(ctx, tx, s.rebind(stmt),
				col, id, u.Field, col, id, u.Field, art.Key, art.Path, string(art.Type), id,
				col, id, u.Field, art.Key, art.Path, string(art.Type))
			if err != nil {
				return 0, err
			}
			total += n
		}
	case classJSON:
		list, found, err := s.readJSONList(ctx, tx, col, u.Field, id)
		if err != nil || !found {
			return 0, err
		}
		present := make(map[string]struct{}, len(list))
		for _, elem := range list {
			c, err := canonicalJSON(elem)
			if err != nil {
				return 0, err
			}
			present[c] = struct{}{}
		}
		for _, raw := range u.Values {
			c, err := canonicalJSON(raw)
			if err != nil {
				return 0, err
			}
			if _, dup := present[c]; dup {
				continue
			}
			present[c] = struct{}{}
			list = append(list, raw)
			total++
		}
		if total == 0 {
			return 0, nil
		}
		return total, s.writeJSONList(ctx, tx, col, u.Field, id, list)
	default:
		return 0, domain.Errorf(domain.CodeInvalidArgument, "field %q is not a sub-list", u.Field)
	}
	return total, nil
}

// nextPosition is the scalar subquery appending at the end of a child list.
// It reads three placeholders: owner_collection, owner_id, field.
func nextPosition(table string) string {
	return fmt.Sprintf(`COALESCE((SELECT MAX(position) + 1 FROM %s WHERE owner_collection = ? AND owner_id = ? AND field = ?), 0)`, table)
}

// kvMatch extends a kv_entries predicate with full key and typed-value
// equality, comparing only the column that carries the value's kind.
func kvMatch(prefix string, args []any, kv domain.KeyValue) (string, []any) {
	stmt := prefix + " AND key = ? AND value_kind = ?"
	args = append(args, kv.Key, string(kv.Value.Kind()))
	switch kv.Value.Kind() {
	case domain.KindNumber:
		stmt += " AND num_value = ?"
		args = append(args, kv.Value.Number())
	case domain.KindString:
		stmt += " AND str_value = ?"
		args = append(args, kv.Value.String())
	case domain.KindBool:
		b := int64(0)
		if kv.Value.Bool() {
			b = 1
		}
		stmt += " AND bool_value = ?"
		args = append(args, b)
	}
	return stmt, args
}

func (s *Store) readJSONList(ctx context.Context, tx *sql.Tx, col, field, id string) ([]any, bool, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", field, col)
	var raw any
	if err := tx.QueryRowContext(ctx, s.rebind(stmt), id).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, domain.WrapInternal("read json column", err)
	}
	var list []any
	if err := json.Unmarshal([]byte(asString(raw)), &list); err != nil {
		return nil, false, domain.WrapInternal("decode json column", err)
	}
	return list, true, nil
}

func (s *Store) writeJSONList(ctx context.Context, tx *sql.Tx, col, field, id string, list []any) error {
	raw, err := json.Marshal(listOrEmpty(list))
	if err != nil {
		return domain.WrapInternal("encode json column", err)
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", col, field)
	if _, err := tx.ExecContext(ctx, s.rebind(stmt), string(raw), id); err != nil {
		return domain.WrapInternal("write json column", err)
	}
	return nil
}

func execAffected(ctx context.Context, tx *sql.Tx, stmt string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, domain.WrapInternal("apply update", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// canonicalJSON renders an element into a comparable form. Map keys are
// emitted in sorted order by encoding/json, so equal documents canonicalize
// to equal strings.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", domain.WrapInternal("canonicalize element", err)
	}
	return string(raw), nil
}
