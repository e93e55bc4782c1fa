package model

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	for _, idType := range []IDType{IDTypePlayback, IDTypeSkill} {
		id, err := GenerateID(idType)
		if err != nil {
			t.Fatalf("GenerateID(%s) error: %v", idType, err)
		}
		if !ValidateID(id) {
			t.Errorf("generated ID %q does not validate", id)
		}
		parsed, err := ParseIDType(id)
		if err != nil {
			t.Fatalf("ParseIDType(%q) error: %v", id, err)
		}
		if parsed != idType {
			t.Errorf("ParseIDType(%q) = %s, want %s", id, parsed, idType)
		}
	}
}

func TestGenerateID_InvalidType(t *testing.T) {
	if _, err := GenerateID(IDType("nope")); err == nil {
		t.Error("expected error for invalid ID type")
	}
}

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypePlayback)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestParseIDTimestamp(t *testing.T) {
	before := time.Now().Add(-2 * time.Second)
	id, err := GenerateID(IDTypeSkill)
	if err != nil {
		t.Fatal(err)
	}
	ts, err := ParseIDTimestamp(id)
	if err != nil {
		t.Fatalf("ParseIDTimestamp(%q) error: %v", id, err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(2*time.Second)) {
		t.Errorf("timestamp %v outside expected window", ts)
	}
}

func TestValidateID_Rejects(t *testing.T) {
	bad := []string{
		"",
		"play_123",
		"task_0000000000_deadbeef",
		"play_0000000000_DEADBEEF",
		"skill_0000000000_deadbee",
	}
	for _, id := range bad {
		if ValidateID(id) {
			t.Errorf("ValidateID(%q) = true, want false", id)
		}
	}
}
