package transcript_test

import (
	"sync"
	"testing"

	"github.com/superslash/slashvoice/internal/transcript"
)

type want struct {
	role transcript.Role
	text string
}

func assertLog(t *testing.T, got []transcript.Turn, wants ...want) {
	t.Helper()
	if len(got) != len(wants) {
		t.Fatalf("log has %d entries, want %d: %+v", len(got), len(wants), got)
	}
	for i, w := range wants {
		if got[i].Role != w.role || got[i].Text != w.text {
			t.Errorf("entry %d = {%s %q}, want {%s %q}", i, got[i].Role, got[i].Text, w.role, w.text)
		}
	}
}

func TestAccumulator_Coalesces(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	a.AppendFragment(transcript.RoleModel, "He")
	a.AppendFragment(transcript.RoleModel, "llo")
	a.AppendFragment(transcript.RoleUser, "Hi")

	assertLog(t, a.Snapshot(),
		want{transcript.RoleModel, "Hello"},
		want{transcript.RoleUser, "Hi"},
	)
}

func TestAccumulator_InterleavedRolesOpenNewEntries(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	a.AppendFragment(transcript.RoleUser, "What's")
	a.AppendFragment(transcript.RoleModel, "It")
	a.AppendFragment(transcript.RoleUser, " the time?")

	assertLog(t, a.Snapshot(),
		want{transcript.RoleUser, "What's"},
		want{transcript.RoleModel, "It"},
		want{transcript.RoleUser, " the time?"},
	)
}

func TestAccumulator_CommitTurn(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	a.AppendFragment(transcript.RoleModel, "One.")
	a.CommitTurn()
	if got := a.Len(); got != 1 {
		t.Fatalf("Len after commit = %d, want 1", got)
	}
	if a.Snapshot()[0].Open {
		t.Error("entry still open after CommitTurn")
	}

	a.AppendFragment(transcript.RoleModel, "Two.")
	assertLog(t, a.Snapshot(),
		want{transcript.RoleModel, "One."},
		want{transcript.RoleModel, "Two."},
	)
}

func TestAccumulator_CommitOnEmptyLog(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	a.CommitTurn()
	a.CommitTurn()
	if a.Len() != 0 {
		t.Errorf("Len = %d, want 0", a.Len())
	}
}

func TestAccumulator_LengthNeverShrinks(t *testing.T) {
	t.Parallel()

	ops := []func(*transcript.Accumulator){
		func(a *transcript.Accumulator) { a.AppendFragment(transcript.RoleUser, "a") },
		func(a *transcript.Accumulator) { a.CommitTurn() },
		func(a *transcript.Accumulator) { a.AppendFragment(transcript.RoleModel, "b") },
		func(a *transcript.Accumulator) { a.AppendFragment(transcript.RoleModel, "") },
		func(a *transcript.Accumulator) { a.CommitTurn() },
		func(a *transcript.Accumulator) { a.AppendFragment(transcript.RoleModel, "c") },
	}

	a := transcript.NewAccumulator()
	prev := 0
	for i, op := range ops {
		op(a)
		if n := a.Len(); n < prev {
			t.Fatalf("op %d: Len shrank from %d to %d", i, prev, n)
		} else {
			prev = n
		}
	}
	if prev != 3 {
		t.Errorf("final Len = %d, want 3", prev)
	}
}

func TestAccumulator_SnapshotIncludesOpenTurn(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	a.AppendFragment(transcript.RoleUser, "Hello")
	a.CommitTurn()
	a.AppendFragment(transcript.RoleModel, "Hi th")

	snap := a.Snapshot()
	assertLog(t, snap,
		want{transcript.RoleUser, "Hello"},
		want{transcript.RoleModel, "Hi th"},
	)
	if !snap[1].Open {
		t.Error("uncommitted entry reported closed")
	}

	// Snapshot is a copy.
	a.AppendFragment(transcript.RoleModel, "ere")
	if snap[1].Text != "Hi th" {
		t.Errorf("snapshot mutated to %q", snap[1].Text)
	}
}

func TestAccumulator_Latest(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	if _, ok := a.Latest(transcript.RoleModel); ok {
		t.Error("Latest on empty log returned ok")
	}
	a.AppendFragment(transcript.RoleModel, "Sure")
	a.AppendFragment(transcript.RoleUser, "Thanks")
	a.AppendFragment(transcript.RoleModel, "!")

	got, ok := a.Latest(transcript.RoleModel)
	if !ok || got.Text != "!" {
		t.Errorf("Latest(model) = (%q, %v), want (\"!\", true)", got.Text, ok)
	}
}

func TestAccumulator_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				a.AppendFragment(transcript.RoleModel, "x")
			}
		})
	}
	wg.Wait()

	snap := a.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d entries, want 1", len(snap))
	}
	if len(snap[0].Text) != 800 {
		t.Errorf("text length = %d, want 800", len(snap[0].Text))
	}
}

func TestAccumulator_Pending(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator()
	a.AppendFragment(transcript.RoleModel, "Good ")
	a.AppendFragment(transcript.RoleUser, "Wait")
	a.AppendFragment(transcript.RoleModel, "morning")

	if got := a.Pending(transcript.RoleModel); got != "Good morning" {
		t.Errorf("Pending(model) = %q, want %q", got, "Good morning")
	}
	if got := a.Pending(transcript.RoleUser); got != "Wait" {
		t.Errorf("Pending(user) = %q, want %q", got, "Wait")
	}

	a.CommitTurn()
	if got := a.Pending(transcript.RoleModel); got != "" {
		t.Errorf("Pending(model) after commit = %q, want empty", got)
	}
	if got := a.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
}
