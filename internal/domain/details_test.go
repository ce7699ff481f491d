package domain

import (
	"encoding/json"
	"testing"
)

func TestDetails_MarshalKeepsInsertionOrder(t *testing.T) {
	var d Details
	d.Set("zeta", 1)
	d.Set("alpha", "a")
	d.Set("mid", true)

	got, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"zeta":1,"alpha":"a","mid":true}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestDetails_SetExistingKeyKeepsPosition(t *testing.T) {
	d := NewDetails(Field{Key: "a", Value: 1}, Field{Key: "b", Value: 2})
	d.Set("a", 3)

	got, _ := json.Marshal(d)
	if string(got) != `{"a":3,"b":2}` {
		t.Fatalf("unexpected encoding %s", got)
	}
}

func TestDetails_RoundTripPreservesOrder(t *testing.T) {
	input := `{"target":{"name":"Ada","id":"u-1"},"changes":[{"field":"role","old":"user","new":"admin"}],"count":12.50,"note":null}`

	var d Details
	if err := json.Unmarshal([]byte(input), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	keys := d.Keys()
	if len(keys) != 4 || keys[0] != "target" || keys[3] != "note" {
		t.Fatalf("unexpected keys %v", keys)
	}

	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != input {
		t.Fatalf("round trip changed payload:\n  in:  %s\n  out: %s", input, out)
	}

	target, ok := d.Get("target")
	if !ok {
		t.Fatal("expected target key")
	}
	nested, ok := target.(Details)
	if !ok {
		t.Fatalf("expected nested Details, got %T", target)
	}
	if nested.Keys()[0] != "name" {
		t.Fatalf("nested order lost: %v", nested.Keys())
	}
}

func TestDetails_ReorderedKeysEncodeDifferently(t *testing.T) {
	a := NewDetails(Field{Key: "x", Value: 1}, Field{Key: "y", Value: 2})
	b := NewDetails(Field{Key: "y", Value: 2}, Field{Key: "x", Value: 1})

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) == string(jb) {
		t.Fatalf("expected different encodings, both were %s", ja)
	}
}

func TestDetails_EmptyAndNull(t *testing.T) {
	var empty Details
	out, _ := json.Marshal(empty)
	if string(out) != "{}" {
		t.Fatalf("expected {}, got %s", out)
	}

	var d Details
	if err := json.Unmarshal([]byte("null"), &d); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("expected empty details, got %d fields", d.Len())
	}

	if err := json.Unmarshal([]byte(`[1,2]`), &d); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestDetails_CloneIsIndependent(t *testing.T) {
	inner := NewDetails(Field{Key: "name", Value: "Ada"})
	d := NewDetails(Field{Key: "target", Value: inner})

	c := d.Clone()
	d.Set("extra", 1)
	inner.Set("name", "Grace")

	out, _ := json.Marshal(c)
	if string(out) != `{"target":{"name":"Ada"}}` {
		t.Fatalf("clone was affected by later changes: %s", out)
	}
}

func TestDetails_NormalizeMatchesDecodedForm(t *testing.T) {
	d := NewDetails(
		Field{Key: "name", Value: "Jo\xffe"},
		Field{Key: "meta", Value: map[string]any{"b": 2, "a": 1}},
	)

	norm, err := d.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	name, _ := norm.Get("name")
	if name != "Jo\uFFFDe" {
		t.Fatalf("expected replacement character, got %q", name)
	}
	meta, _ := norm.Get("meta")
	if _, ok := meta.(Details); !ok {
		t.Fatalf("expected nested map to become Details, got %T", meta)
	}

	again, err := norm.Normalize()
	if err != nil {
		t.Fatalf("normalize twice: %v", err)
	}
	a, _ := json.Marshal(norm)
	b, _ := json.Marshal(again)
	if string(a) != string(b) || string(a) != "{\"name\":\"Jo\uFFFDe\",\"meta\":{\"a\":1,\"b\":2}}" {
		t.Fatalf("unstable normalization %s vs %s", a, b)
	}

	if _, err := NewDetails(Field{Key: "ch", Value: make(chan int)}).Normalize(); err == nil {
		t.Fatal("expected an error for an unencodable value")
	}
}
