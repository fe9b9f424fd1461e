package status

import (
	"sync"
	"testing"

	"github.com/tomharrigan/phalanx/internal/merge"
)

func TestCreateRejectsDuplicate(t *testing.T) {
	s := NewStore()

	if _, err := s.Create("b1", "work", 2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("b1", "work", 2); err == nil {
		t.Error("expected error for duplicate batch id")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("b1", "work", 1); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.Update("b1", func(b *BatchStatus) {
		b.Agents[0] = &AgentStatus{
			AgentID: 0,
			State:   AgentCompleted,
			Merge:   &merge.Result{Branch: "x", ConflictFiles: []string{"a.go"}},
		}
	})

	snap, ok := s.Snapshot("b1")
	if !ok {
		t.Fatal("Snapshot: batch missing")
	}

	// Mutating the snapshot must not leak into the store.
	snap.Agents[0].State = AgentFailed
	snap.Agents[0].Merge.ConflictFiles[0] = "mutated"
	snap.Agents[99] = &AgentStatus{}

	fresh, _ := s.Snapshot("b1")
	if fresh.Agents[0].State != AgentCompleted {
		t.Error("snapshot mutation leaked into store (agent state)")
	}
	if fresh.Agents[0].Merge.ConflictFiles[0] != "a.go" {
		t.Error("snapshot mutation leaked into store (conflict files)")
	}
	if len(fresh.Agents) != 1 {
		t.Error("snapshot mutation leaked into store (agent map)")
	}
}

func TestUpdateBumpsGeneration(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("b1", "", 1); err != nil {
		t.Fatal(err)
	}

	before, _ := s.Snapshot("b1")
	s.Update("b1", func(b *BatchStatus) { b.State = StateRunning })
	after, _ := s.Snapshot("b1")

	if after.Generation != before.Generation+1 {
		t.Errorf("generation %d -> %d, want +1", before.Generation, after.Generation)
	}
}

func TestUpdateIfCurrentDropsStaleWrites(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("b1", "", 1); err != nil {
		t.Fatal(err)
	}

	snap, _ := s.Snapshot("b1")
	stale := snap.Generation

	// The batch moves on (say, it gets cancelled) before the async writer
	// lands.
	s.Update("b1", func(b *BatchStatus) { b.State = StateCancelled })

	applied := s.UpdateIfCurrent("b1", stale, func(b *BatchStatus) {
		b.State = StateRunning
	})
	if applied {
		t.Error("stale update was applied")
	}

	cur, _ := s.Snapshot("b1")
	if cur.State != StateCancelled {
		t.Errorf("state = %s, want cancelled preserved", cur.State)
	}

	// A writer holding the current generation succeeds.
	if !s.UpdateIfCurrent("b1", cur.Generation, func(b *BatchStatus) { b.Error = "x" }) {
		t.Error("current-generation update was dropped")
	}
}

func TestTerminalStateSetsFinishedAt(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("b1", "", 1); err != nil {
		t.Fatal(err)
	}

	s.Update("b1", func(b *BatchStatus) { b.State = StateComplete })
	snap, _ := s.Snapshot("b1")
	if snap.FinishedAt.IsZero() {
		t.Error("FinishedAt not set on terminal transition")
	}
}

func TestCloseOnlyTerminal(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("b1", "", 1); err != nil {
		t.Fatal(err)
	}

	if err := s.Close("b1"); err == nil {
		t.Error("closing a live batch should fail")
	}

	s.Update("b1", func(b *BatchStatus) { b.State = StateFailed })
	if err := s.Close("b1"); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, ok := s.Snapshot("b1"); ok {
		t.Error("batch still readable after Close")
	}
	if err := s.Close("b1"); err == nil {
		t.Error("closing an unknown batch should fail")
	}
}

func TestLive(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Create(id, "", 1); err != nil {
			t.Fatal(err)
		}
	}
	s.Update("b", func(b *BatchStatus) { b.State = StateComplete })
	s.Update("c", func(b *BatchStatus) { b.State = StateRunning })

	live := s.Live()
	if !live["a"] || !live["c"] || live["b"] {
		t.Errorf("live = %v, want a and c only", live)
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("b1", "", 1); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Update("b1", func(b *BatchStatus) {
				b.Agents[i%4] = &AgentStatus{AgentID: i % 4, State: AgentRunning}
				b.TotalCostUSD += 0.01
			})
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if snap, ok := s.Snapshot("b1"); ok {
					_ = len(snap.Agents)
				}
			}
		}()
	}

	wg.Wait()
}
