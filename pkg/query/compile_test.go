package query

import (
	"testing"

	"modeldb/pkg/domain"
)

func TestCompileOperatorsAndKeys(t *testing.T) {
	cases := []struct {
		name string
		pred Predicate
		want Clause
	}{
		{
			name: "plain field",
			pred: Predicate{Key: "name", Op: OpEQ, Value: domain.StringValue("mnist")},
			want: Clause{Field: "name", Op: OpEQ, Value: domain.StringValue("mnist")},
		},
		{
			name: "dotted key becomes element match",
			pred: Predicate{Key: "metrics.accuracy", Op: OpGT, Value: domain.NumberValue(0.9)},
			want: Clause{Field: "metrics", ElemKey: "accuracy", Op: OpGT, Value: domain.NumberValue(0.9)},
		},
		{
			name: "deep path keeps trailing segment",
			pred: Predicate{Key: "attributes.config.lr", Op: OpLTE, Value: domain.NumberValue(0.01)},
			want: Clause{Field: "attributes", ElemKey: "lr", Op: OpLTE, Value: domain.NumberValue(0.01)},
		},
		{
			name: "bool predicate",
			pred: Predicate{Key: "attributes.debug", Op: OpNE, Value: domain.BoolValue(true)},
			want: Clause{Field: "attributes", ElemKey: "debug", Op: OpNE, Value: domain.BoolValue(true)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clauses, err := Compile([]Predicate{tc.pred}, CompileOptions{})
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if len(clauses) != 1 || clauses[0] != tc.want {
				t.Fatalf("got %+v, want %+v", clauses, tc.want)
			}
		})
	}
}

func TestCompileEmptyInputIsNoFilter(t *testing.T) {
	clauses, err := Compile(nil, CompileOptions{})
	if err != nil || clauses != nil {
		t.Fatalf("expected nil clauses without error, got %v %v", clauses, err)
	}
}

func TestCompileEmptyStringValueSkipped(t *testing.T) {
	preds := []Predicate{
		{Key: "name", Op: OpEQ, Value: domain.StringValue("")},
		{Key: "metrics.acc", Op: OpGT, Value: domain.NumberValue(0.5)},
	}
	clauses, err := Compile(preds, CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(clauses) != 1 || clauses[0].Field != "metrics" {
		t.Fatalf("expected only the metric clause, got %+v", clauses)
	}
}

func TestCompileKeepEmptyStringOption(t *testing.T) {
	preds := []Predicate{{Key: "name", Op: OpEQ, Value: domain.StringValue("")}}
	clauses, err := Compile(preds, CompileOptions{KeepEmptyStringPredicates: true})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(clauses) != 1 {
		t.Fatalf("expected the empty-string clause to survive, got %+v", clauses)
	}
}

func TestCompileAllPredicatesDropped(t *testing.T) {
	preds := []Predicate{
		{Key: "name", Op: OpEQ, Value: domain.StringValue("")},
		{Key: "description", Op: OpEQ, Value: domain.StringValue("")},
	}
	_, err := Compile(preds, CompileOptions{})
	if !domain.IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument when every predicate is dropped, got %v", err)
	}
}

func TestCompileRejectsUnsupportedValueKind(t *testing.T) {
	_, err := Compile([]Predicate{{Key: "name", Op: OpEQ, Value: domain.Value{}}}, CompileOptions{})
	if !domain.IsUnimplemented(err) {
		t.Fatalf("expected unimplemented for zero-kind value, got %v", err)
	}
}

func TestCompileRejectsBadInput(t *testing.T) {
	if _, err := Compile([]Predicate{{Key: "", Op: OpEQ, Value: domain.StringValue("x")}}, CompileOptions{}); !domain.IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument for empty key, got %v", err)
	}
	if _, err := Compile([]Predicate{{Key: "name", Op: "LIKE", Value: domain.StringValue("x")}}, CompileOptions{}); !domain.IsInvalidArgument(err) {
		t.Fatalf("expected invalid-argument for unknown operator, got %v", err)
	}
}

func TestSortNested(t *testing.T) {
	cases := []struct {
		key    string
		list   string
		field  string
		nested bool
	}{
		{key: "created_at", nested: false},
		{key: "metrics.value", list: "metrics", field: "value", nested: true},
		{key: "metrics.extra.value", list: "metrics", field: "value", nested: true},
	}
	for _, tc := range cases {
		list, field, nested := Sort{Key: tc.key}.Nested()
		if list != tc.list || field != tc.field || nested != tc.nested {
			t.Fatalf("Nested(%q) = %q %q %v, want %q %q %v", tc.key, list, field, nested, tc.list, tc.field, tc.nested)
		}
	}
}
