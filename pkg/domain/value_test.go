package domain

import (
	"encoding/json"
	"testing"
)

func TestValueTaggedJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"number", NumberValue(0.5), `{"kind":"number","number":0.5}`},
		{"string", StringValue("adam"), `{"kind":"string","string":"adam"}`},
		{"bool", BoolValue(true), `{"kind":"bool","bool":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(raw) != tc.want {
				t.Fatalf("marshal = %s, want %s", raw, tc.want)
			}
			var back Value
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !back.Equal(tc.v) {
				t.Fatalf("round trip changed value: %#v != %#v", back, tc.v)
			}
		})
	}
}

func TestValueRejectsUnknownKind(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"kind":"blob","blob":"x"}`), &v); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestErrorCodeMatching(t *testing.T) {
	err := Errorf(CodeNotFound, "run %s not found", "r1")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found classification")
	}
	wrapped := WrapInternal("read row", err)
	if CodeOf(wrapped) != CodeInternal {
		t.Fatalf("wrap should classify internal, got %s", CodeOf(wrapped))
	}
	if CodeOf(nil) != "" {
		t.Fatalf("nil error should have empty code")
	}
}
