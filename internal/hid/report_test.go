package hid

import (
	"errors"
	"testing"
)

func TestReport_PressRelease(t *testing.T) {
	var r Report

	if err := r.Press(4); err != nil {
		t.Fatal(err)
	}
	got := r.Bytes()
	if got[0] != 0 || got[2] != 4 {
		t.Errorf("Bytes = %v, want key 4 in first slot", got)
	}

	r.Release(4)
	if !r.Empty() {
		t.Error("report not empty after release")
	}
}

func TestReport_Modifiers(t *testing.T) {
	var r Report

	if err := r.Press(224); err != nil { // LeftCtrl → bit 0
		t.Fatal(err)
	}
	if err := r.Press(229); err != nil { // RightShift → bit 5
		t.Fatal(err)
	}
	got := r.Bytes()
	if got[0] != 0b00100001 {
		t.Errorf("modifiers = %08b, want 00100001", got[0])
	}

	r.Release(224)
	if r.Bytes()[0] != 0b00100000 {
		t.Errorf("modifiers = %08b after releasing ctrl", r.Bytes()[0])
	}
}

func TestReport_Chord(t *testing.T) {
	var r Report
	for _, u := range []uint16{224, 4, 5} {
		if err := r.Press(u); err != nil {
			t.Fatal(err)
		}
	}
	got := r.Bytes()
	if got[0] != 1 || got[2] != 4 || got[3] != 5 {
		t.Errorf("Bytes = %v, want ctrl + keys 4,5", got)
	}
}

func TestReport_Rollover(t *testing.T) {
	var r Report
	for u := uint16(4); u < 10; u++ {
		if err := r.Press(u); err != nil {
			t.Fatalf("Press(%d) error: %v", u, err)
		}
	}
	if err := r.Press(10); !errors.Is(err, ErrRollover) {
		t.Errorf("seventh key error = %v, want ErrRollover", err)
	}
	// Modifiers do not consume slots.
	if err := r.Press(224); err != nil {
		t.Errorf("modifier press after rollover error: %v", err)
	}
}

func TestReport_RedundantTransitions(t *testing.T) {
	var r Report
	if err := r.Press(4); err != nil {
		t.Fatal(err)
	}
	if err := r.Press(4); err != nil {
		t.Errorf("re-press of held key should be a no-op, got %v", err)
	}
	got := r.Bytes()
	if got[2] != 4 || got[3] != 0 {
		t.Errorf("re-press duplicated key slot: %v", got)
	}

	r.Release(9) // never pressed
	if r.Bytes()[2] != 4 {
		t.Error("release of unheld key disturbed the report")
	}
}

func TestReport_SlotReuse(t *testing.T) {
	var r Report
	_ = r.Press(4)
	_ = r.Press(5)
	r.Release(4)
	_ = r.Press(6)
	got := r.Bytes()
	if got[2] != 6 || got[3] != 5 {
		t.Errorf("Bytes = %v, want slot of released key reused", got)
	}
}
