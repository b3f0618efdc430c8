package auth

import "testing"

func TestValidateName(t *testing.T) {
	cases := map[string]string{
		"  Alice  ":                    "Alice",
		"":                              "Player",
		"<script>alert(1)</script>":     "scriptalert(1)/sc",
		"ThisNameIsWayTooLongForTheGameToAllow": "ThisNameIsWayTooLong",
	}

	for in, want := range cases {
		got := ValidateName(in)
		if !got.Valid || got.Value != want {
			t.Errorf("ValidateName(%q) = %q, want %q", in, got.Value, want)
		}
	}
}

func TestValidateRoomID(t *testing.T) {
	if r := ValidateRoomID("abc123"); !r.Valid || r.Value != "ABC123" {
		t.Errorf("expected private room id to upper-case, got %+v", r)
	}
	if r := ValidateRoomID("abcdefghij"); !r.Valid || r.Value != "abcdefghij" {
		t.Errorf("expected fabric room id to pass through, got %+v", r)
	}
	if r := ValidateRoomID("!!"); r.Valid {
		t.Errorf("expected invalid room id to be rejected")
	}
}

func TestValidateCursorOffset(t *testing.T) {
	if r := ValidateCursorOffset(-1); r.Valid {
		t.Errorf("expected negative offset to be rejected")
	}
	if r := ValidateCursorOffset(100001); r.Valid {
		t.Errorf("expected offset above bound to be rejected")
	}
	if r := ValidateCursorOffset(42); !r.Valid || r.Value != 42 {
		t.Errorf("expected valid offset to pass through, got %+v", r)
	}
}

func TestCoerceBool(t *testing.T) {
	if !CoerceBool(true, false) {
		t.Error("expected true to coerce to true")
	}
	if CoerceBool(nil, false) {
		t.Error("expected nil to coerce to default")
	}
	if !CoerceBool("not a bool", true) {
		t.Error("expected non-bool to coerce to default")
	}
}
