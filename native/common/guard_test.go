package common

import (
	"errors"
	"testing"
)

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("expected nil view to allow, got %v", err)
	}
}

func TestGuardToggle(t *testing.T) {
	pauses := NewPauses("lending")
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "oracle"); err != nil {
		t.Fatalf("unexpected error for unpaused module: %v", err)
	}
	pauses.SetPaused("lending", false)
	if err := Guard(pauses, "lending"); err != nil {
		t.Fatalf("expected module to resume, got %v", err)
	}
}
