package docstore

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"modeldb/internal/storage"
	"modeldb/pkg/domain"
	"modeldb/pkg/query"
)

// matchDocument reports whether doc satisfies every member of the filter.
func matchDocument(doc storage.Document, f query.Filter) (bool, error) {
	id, _ := doc[storage.FieldID].(string)
	if f.IDs != nil {
		found := false
		for _, want := range f.IDs {
			if want == id {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	if f.ProjectID != "" {
		if pid, _ := doc[storage.FieldProjectID].(string); pid != f.ProjectID {
			return false, nil
		}
	}
	if f.ExperimentID != "" {
		if eid, _ := doc[storage.FieldExperimentID].(string); eid != f.ExperimentID {
			return false, nil
		}
	}
	for _, clause := range f.Clauses {
		ok, err := matchClause(doc, clause)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(doc storage.Document, c query.Clause) (bool, error) {
	if c.ElemKey == "" {
		return compareScalar(doc[c.Field], c.Op, c.Value)
	}
	// Element-match: at least one element of the sub-list must carry the key
	// and a value satisfying the operator.
	list, _ := doc[c.Field].([]any)
	for _, raw := range list {
		elem, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if key, _ := elem["key"].(string); key != c.ElemKey {
			continue
		}
		val, ok := taggedValue(elem["value"])
		if !ok {
			continue
		}
		match, err := compareValues(val, c.Op, c.Value)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// compareScalar evaluates a top-level field against a typed predicate value.
func compareScalar(raw any, op query.Operator, want domain.Value) (bool, error) {
	switch want.Kind() {
	case domain.KindNumber:
		f, ok := toFloat(raw)
		if !ok {
			// Timestamp fields hold RFC3339 strings; a number predicate on
			// them is an epoch-milliseconds bound, same wire convention as
			// the relational backend.
			s, isStr := raw.(string)
			if !isStr {
				return false, nil
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return false, nil
			}
			return compareOrdered(compareFloats(float64(t.UnixMicro()), want.Number()*1000), op)
		}
		return compareOrdered(compareFloats(f, want.Number()), op)
	case domain.KindString:
		s, ok := raw.(string)
		if !ok {
			return false, nil
		}
		if op == query.OpContain {
			return strings.Contains(s, want.String()), nil
		}
		return compareOrdered(compareStrings(s, want.String()), op)
	case domain.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return false, nil
		}
		switch op {
		case query.OpEQ:
			return b == want.Bool(), nil
		case query.OpNE:
			return b != want.Bool(), nil
		default:
			return false, domain.Errorf(domain.CodeInvalidArgument,
				"operator %s is not defined for bool values", op)
		}
	default:
		return false, domain.Errorf(domain.CodeUnimplemented,
			"unsupported value kind %q (supported kinds: number, string, bool)", want.Kind())
	}
}

// compareValues evaluates a stored tagged value against a predicate value.
// Kind mismatches never match; they are a caller data issue, not an error.
func compareValues(got domain.Value, op query.Operator, want domain.Value) (bool, error) {
	if got.Kind() != want.Kind() {
		return false, nil
	}
	switch want.Kind() {
	case domain.KindNumber:
		return compareOrdered(compareFloats(got.Number(), want.Number()), op)
	case domain.KindString:
		if op == query.OpContain {
			return strings.Contains(got.String(), want.String()), nil
		}
		return compareOrdered(compareStrings(got.String(), want.String()), op)
	case domain.KindBool:
		switch op {
		case query.OpEQ:
			return got.Bool() == want.Bool(), nil
		case query.OpNE:
			return got.Bool() != want.Bool(), nil
		default:
			return false, domain.Errorf(domain.CodeInvalidArgument,
				"operator %s is not defined for bool values", op)
		}
	default:
		return false, domain.Errorf(domain.CodeUnimplemented,
			"unsupported value kind %q (supported kinds: number, string, bool)", want.Kind())
	}
}

func compareOrdered(cmp int, op query.Operator) (bool, error) {
	switch op {
	case query.OpEQ:
		return cmp == 0, nil
	case query.OpNE:
		return cmp != 0, nil
	case query.OpGT:
		return cmp > 0, nil
	case query.OpGTE:
		return cmp >= 0, nil
	case query.OpLT:
		return cmp < 0, nil
	case query.OpLTE:
		return cmp <= 0, nil
	default:
		return false, domain.Errorf(domain.CodeInvalidArgument, "unknown operator %q", op)
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareStrings orders RFC3339 timestamps chronologically and everything
// else lexicographically.
func compareStrings(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// taggedValue decodes the JSON object form of domain.Value.
func taggedValue(raw any) (domain.Value, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return domain.Value{}, false
	}
	data, err := json.Marshal(m)
	if err != nil {
		return domain.Value{}, false
	}
	var v domain.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.Value{}, false
	}
	return v, v.Kind() != ""
}

// sortDocuments orders docs by a top-level field. The sort is stable, so ties
// keep the backend's natural (insertion) order.
func sortDocuments(docs []storage.Document, field string, ascending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		cmp := compareAny(docs[i][field], docs[j][field])
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	})
}

// compareAny imposes a total order across the value shapes a document field
// can hold: absent first, then numbers, strings (timestamps chronologically),
// bools, then tagged values ranked by kind.
func compareAny(a, b any) int {
	ra, ka := rankAny(a)
	rb, kb := rankAny(b)
	if ra != rb {
		return ra - rb
	}
	switch ka.(type) {
	case float64:
		return compareFloats(ka.(float64), kb.(float64))
	case string:
		return compareStrings(ka.(string), kb.(string))
	case bool:
		ba, bb := ka.(bool), kb.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	default:
		return 0
	}
}

// rankAny reduces a field value to (rank, comparable scalar). Tagged value
// objects are unwrapped to their scalar member.
func rankAny(raw any) (int, any) {
	if v, ok := taggedValue(raw); ok {
		switch v.Kind() {
		case domain.KindNumber:
			return 1, v.Number()
		case domain.KindString:
			return 2, v.String()
		case domain.KindBool:
			return 3, v.Bool()
		}
	}
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return 1, v
	case json.Number:
		f, _ := v.Float64()
		return 1, f
	case string:
		return 2, v
	case bool:
		return 3, v
	default:
		return 4, nil
	}
}

type pipelineRow struct {
	ownerID string
	sortVal any
}

// unwindDocument flattens one document's sub-list into pipeline rows,
// keeping elements that carry the sort field.
func unwindDocument(doc storage.Document, id, unwind, elemField string) []pipelineRow {
	list, _ := doc[unwind].([]any)
	var rows []pipelineRow
	for _, raw := range list {
		elem, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		v, ok := elem[elemField]
		if !ok || v == nil {
			continue
		}
		rows = append(rows, pipelineRow{ownerID: id, sortVal: v})
	}
	return rows
}

func sortRows(rows []pipelineRow, ascending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := compareAny(rows[i].sortVal, rows[j].sortVal)
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	})
}

// applyUpdate mutates doc in place and reports whether anything changed.
func applyUpdate(doc storage.Document, u query.Update) (bool, error) {
	switch u.Kind {
	case query.UpdateSet:
		if len(u.Set) == 0 {
			return false, domain.Errorf(domain.CodeInvalidArgument, "set operation carries no fields")
		}
		for k, v := range u.Set {
			nv, err := normalizeAny(v)
			if err != nil {
				return false, err
			}
			doc[k] = nv
		}
		return true, nil
	case query.UpdatePush:
		elem, err := normalizeAny(u.Element)
		if err != nil {
			return false, err
		}
		list, _ := doc[u.Field].([]any)
		doc[u.Field] = append(list, elem)
		return true, nil
	case query.UpdatePullKeys:
		keys := make(map[string]struct{}, len(u.Keys))
		for _, k := range u.Keys {
			keys[k] = struct{}{}
		}
		list, _ := doc[u.Field].([]any)
		kept := make([]any, 0, len(list))
		for _, raw := range list {
			if elem, ok := raw.(map[string]any); ok {
				if key, _ := elem["key"].(string); key != "" {
					if _, drop := keys[key]; drop {
						continue
					}
				}
			}
			kept = append(kept, raw)
		}
		doc[u.Field] = kept
		return len(kept) != len(list), nil
	case query.UpdatePullValues:
		targets, err := canonicalSet(u.Values)
		if err != nil {
			return false, err
		}
		list, _ := doc[u.Field].([]any)
		kept := make([]any, 0, len(list))
		for _, raw := range list {
			c, err := canonical(raw)
			if err != nil {
				return false, err
			}
			if _, drop := targets[c]; drop {
				continue
			}
			kept = append(kept, raw)
		}
		doc[u.Field] = kept
		return len(kept) != len(list), nil
	case query.UpdateClear:
		list, _ := doc[u.Field].([]any)
		if len(list) == 0 {
			return false, nil
		}
		doc[u.Field] = []any{}
		return true, nil
	case query.UpdateAddUnique:
		list, _ := doc[u.Field].([]any)
		present := make(map[string]struct{}, len(list))
		for _, raw := range list {
			c, err := canonical(raw)
			if err != nil {
				return false, err
			}
			present[c] = struct{}{}
		}
		changed := false
		for _, v := range u.Values {
			nv, err := normalizeAny(v)
			if err != nil {
				return false, err
			}
			c, err := canonical(nv)
			if err != nil {
				return false, err
			}
			if _, dup := present[c]; dup {
				continue
			}
			present[c] = struct{}{}
			list = append(list, nv)
			changed = true
		}
		doc[u.Field] = list
		return changed, nil
	default:
		return false, domain.Errorf(domain.CodeInvalidArgument, "unknown update kind %q", u.Kind)
	}
}

// normalizeAny reduces a payload to its JSON-shaped form so stored documents
// never alias caller-owned structs.
func normalizeAny(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, domain.WrapInternal("normalize update payload", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.WrapInternal("normalize update payload", err)
	}
	return out, nil
}

// canonical returns a deterministic JSON encoding used for element equality.
func canonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", domain.WrapInternal("canonicalize element", err)
	}
	return string(raw), nil
}

func canonicalSet(values []any) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		nv, err := normalizeAny(v)
		if err != nil {
			return nil, err
		}
		c, err := canonical(nv)
		if err != nil {
			return nil, err
		}
		out[c] = struct{}{}
	}
	return out, nil
}
