package query

// UpdateKind names a declarative single-document update operation.
type UpdateKind string

// Supported update operations. Each executes as one atomic write scoped to
// the document addressed by its identifier.
const (
	// UpdateSet overwrites named top-level fields.
	UpdateSet UpdateKind = "set"
	// UpdatePush appends one element to a repeated sub-list.
	UpdatePush UpdateKind = "push"
	// UpdatePullKeys removes all elements of a keyed sub-list whose key is listed.
	UpdatePullKeys UpdateKind = "pull_keys"
	// UpdatePullValues removes elements equal to any of the listed values.
	UpdatePullValues UpdateKind = "pull_values"
	// UpdateClear empties a sub-list entirely.
	UpdateClear UpdateKind = "clear"
	// UpdateAddUnique appends each listed element not already present.
	UpdateAddUnique UpdateKind = "add_unique"
)

// Update is one declarative mutation. Exactly one payload member is used,
// selected by Kind.
type Update struct {
	Kind  UpdateKind
	Field string

	// Set carries field -> new value pairs for UpdateSet.
	Set map[string]any
	// Element carries the single element appended by UpdatePush.
	Element any
	// Keys carries the element keys removed by UpdatePullKeys.
	Keys []string
	// Values carries the elements removed by UpdatePullValues or appended by
	// UpdateAddUnique.
	Values []any
}

// SetFields builds a set operation over top-level fields.
func SetFields(fields map[string]any) Update {
	return Update{Kind: UpdateSet, Set: fields}
}

// Push builds an append of one element onto the named sub-list.
func Push(field string, element any) Update {
	return Update{Kind: UpdatePush, Field: field, Element: element}
}

// PullKeys builds a removal of all elements whose key is in keys.
func PullKeys(field string, keys []string) Update {
	return Update{Kind: UpdatePullKeys, Field: field, Keys: keys}
}

// PullValues builds a removal of elements equal to any listed value.
func PullValues(field string, values []any) Update {
	return Update{Kind: UpdatePullValues, Field: field, Values: values}
}

// Clear builds a removal of every element of the named sub-list.
func Clear(field string) Update {
	return Update{Kind: UpdateClear, Field: field}
}

// AddUnique builds an append of each value not already present in the sub-list.
func AddUnique(field string, values []any) Update {
	return Update{Kind: UpdateAddUnique, Field: field, Values: values}
}
