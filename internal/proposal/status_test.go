package proposal

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusProposed, true},
		{StatusProposed, StatusOwnerConfirmed, true},
		{StatusOwnerConfirmed, StatusExecuted, true},
		{StatusDraft, StatusOwnerConfirmed, false},
		{StatusDraft, StatusExecuted, false},
		{StatusProposed, StatusExecuted, false},
		{StatusProposed, StatusDraft, false},
		{StatusOwnerConfirmed, StatusProposed, false},
		{StatusDraft, StatusFailed, true},
		{StatusProposed, StatusFailed, true},
		{StatusOwnerConfirmed, StatusFailed, true},
		{StatusExecuted, StatusFailed, false},
		{StatusFailed, StatusProposed, false},
		{StatusExecuted, StatusOwnerConfirmed, false},
		{Status("BOGUS"), StatusProposed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	got, err := Transition(StatusProposed, StatusProposed)
	if err != nil {
		t.Fatalf("same-status transition: %v", err)
	}
	if got != StatusProposed {
		t.Fatalf("expected PROPOSED, got %s", got)
	}
}

func TestAdvanceRejectsSkip(t *testing.T) {
	p := &Proposal{Status: StatusProposed}
	if err := p.Advance(StatusExecuted); err == nil {
		t.Fatal("expected error when skipping OWNER_CONFIRMED")
	}
	if p.Status != StatusProposed {
		t.Fatalf("status changed after rejected advance: %s", p.Status)
	}
}

func TestMarkExecutedIdempotent(t *testing.T) {
	p := &Proposal{Status: StatusOwnerConfirmed}
	tx := common.HexToHash("0x01")

	if err := p.MarkExecuted(tx); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	if p.Status != StatusExecuted {
		t.Fatalf("expected EXECUTED, got %s", p.Status)
	}
	if p.ExecutedTx == nil || *p.ExecutedTx != tx {
		t.Fatalf("executed tx not recorded: %v", p.ExecutedTx)
	}

	if err := p.MarkExecuted(tx); err != nil {
		t.Fatalf("second mark executed should be a noop: %v", err)
	}
}
