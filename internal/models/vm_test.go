package models

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"pending to provisioning", StatePending, StateProvisioning, true},
		{"pending to terminating", StatePending, StateTerminating, true},
		{"pending to running skips provisioning", StatePending, StateRunning, false},
		{"provisioning to running", StateProvisioning, StateRunning, true},
		{"provisioning to error", StateProvisioning, StateError, true},
		{"provisioning to terminating deferred delete", StateProvisioning, StateTerminating, true},
		{"provisioning to stopped", StateProvisioning, StateStopped, false},
		{"running to stopping", StateRunning, StateStopping, true},
		{"running to terminating", StateRunning, StateTerminating, true},
		{"running to error drift", StateRunning, StateError, true},
		{"running to stopped skips stopping", StateRunning, StateStopped, false},
		{"stopping to stopped", StateStopping, StateStopped, true},
		{"stopping to error", StateStopping, StateError, true},
		{"stopping to terminating deferred delete", StateStopping, StateTerminating, true},
		{"stopped to provisioning restart", StateStopped, StateProvisioning, true},
		{"stopped to terminating", StateStopped, StateTerminating, true},
		{"stopped to error drift", StateStopped, StateError, true},
		{"stopped to running skips provisioning", StateStopped, StateRunning, false},
		{"error to terminating", StateError, StateTerminating, true},
		{"error to provisioning not allowed", StateError, StateProvisioning, false},
		{"error to running not allowed", StateError, StateRunning, false},
		{"terminating to terminated", StateTerminating, StateTerminated, true},
		{"terminating to error", StateTerminating, StateError, true},
		{"terminating to running not allowed", StateTerminating, StateRunning, false},
		{"terminated admits nothing", StateTerminated, StateTerminating, false},
		{"terminated to terminated", StateTerminated, StateTerminated, false},
		{"self loop not allowed", StateRunning, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateHelpers(t *testing.T) {
	inFlight := []State{StateProvisioning, StateStopping, StateTerminating}
	settled := []State{StatePending, StateRunning, StateStopped, StateTerminated, StateError}

	for _, s := range inFlight {
		if !s.InFlight() {
			t.Errorf("expected %s to be in-flight", s)
		}
	}
	for _, s := range settled {
		if s.InFlight() {
			t.Errorf("expected %s not to be in-flight", s)
		}
	}

	if !StateTerminated.Terminal() {
		t.Error("terminated must be terminal")
	}
	for _, s := range []State{StatePending, StateProvisioning, StateRunning, StateStopping, StateStopped, StateTerminating, StateError} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range []State{StatePending, StateProvisioning, StateRunning, StateStopping, StateStopped, StateTerminating, StateTerminated, StateError} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if State("booting").Valid() {
		t.Error("unknown state must not be valid")
	}
	if !DesiredDeleted.Valid() || DesiredState("paused").Valid() {
		t.Error("desired state validity mismatch")
	}
}
