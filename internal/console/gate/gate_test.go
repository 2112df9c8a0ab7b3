package gate_test

import (
	"errors"
	"testing"

	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/console/gate"
)

func action(id, cmd string) classify.Action {
	return classify.Action{ID: id, Kind: classify.Confirmable, ServerID: "srv-1", Command: cmd}
}

func TestGate_EmptyRejectsDecisions(t *testing.T) {
	g := gate.New()
	if g.State() != gate.Empty {
		t.Fatalf("new gate state = %s", g.State())
	}
	if _, err := g.Confirm(); !errors.Is(err, gate.ErrNothingPending) {
		t.Fatalf("Confirm on empty gate: %v", err)
	}
	if _, err := g.Reject(); !errors.Is(err, gate.ErrNothingPending) {
		t.Fatalf("Reject on empty gate: %v", err)
	}
	if _, ok := g.Current(); ok {
		t.Fatal("empty gate has a current action")
	}
}

func TestGate_FIFO(t *testing.T) {
	g := gate.New()
	if !g.Offer(action("a1", "systemctl restart nginx")) {
		t.Fatal("first offer should surface immediately")
	}
	if g.Offer(action("a2", "reboot")) || g.Offer(action("a3", "rm -rf /tmp/cache")) {
		t.Fatal("later offers should queue")
	}
	if g.State() != gate.AwaitingDecision || g.Queued() != 2 {
		t.Fatalf("state %s queued %d", g.State(), g.Queued())
	}

	d, err := g.Reject()
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if d.Action.ID != "a1" || d.Status != gate.StatusDenied || d.Next == nil || d.Next.ID != "a2" {
		t.Fatalf("unexpected decision: %+v", d)
	}

	d, err = g.Confirm()
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if d.Action.ID != "a2" || d.Status != gate.StatusApproved || d.Next == nil || d.Next.ID != "a3" {
		t.Fatalf("unexpected decision: %+v", d)
	}

	d, err = g.Confirm()
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if d.Action.ID != "a3" || d.Next != nil {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if g.State() != gate.Empty || g.Pending() != nil {
		t.Fatalf("gate not empty after draining: %s %v", g.State(), g.Pending())
	}
}

// At most one action awaits a decision after any sequence of operations.
func TestGate_SingleSlot(t *testing.T) {
	g := gate.New()
	ops := []string{"offer", "offer", "confirm", "offer", "reject", "reject", "reject", "offer", "confirm"}
	offered, resolved := 0, 0
	for i, op := range ops {
		switch op {
		case "offer":
			g.Offer(action(string(rune('a'+i)), "reboot"))
			offered++
		case "confirm":
			if _, err := g.Confirm(); err == nil {
				resolved++
			}
		case "reject":
			if _, err := g.Reject(); err == nil {
				resolved++
			}
		}
		pending := g.Pending()
		if want := offered - resolved; len(pending) != want {
			t.Fatalf("step %d: %d pending, want %d", i, len(pending), want)
		}
		_, hasCurrent := g.Current()
		if hasCurrent != (len(pending) > 0) {
			t.Fatalf("step %d: current=%v with %d pending", i, hasCurrent, len(pending))
		}
	}
}
