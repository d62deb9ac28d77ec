package idhash

import (
	"testing"

	"ephemeral-vault/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	id := ComputeEventID("vault1", domain.EventDeposit, 1)
	if len(id) != 64 {
		t.Errorf("ComputeEventID() length = %d, want 64", len(id))
	}
	if id != ComputeEventID("vault1", domain.EventDeposit, 1) {
		t.Error("ComputeEventID() not deterministic")
	}

	others := []string{
		ComputeEventID("vault2", domain.EventDeposit, 1),
		ComputeEventID("vault1", domain.EventTradeExecuted, 1),
		ComputeEventID("vault1", domain.EventDeposit, 2),
	}
	for _, o := range others {
		if o == id {
			t.Errorf("ComputeEventID() collision: %s", o)
		}
	}
}
