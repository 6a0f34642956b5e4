package peer

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

func newTestLinks() (*Links, *[]*fakeTransport) {
	created := &[]*fakeTransport{}
	factory := func() (MediaTransport, error) {
		tp := &fakeTransport{}
		*created = append(*created, tp)
		return tp, nil
	}
	return NewLinks("alice", factory, zerolog.Nop()), created
}

func TestEnsureCreatesOncePerRemote(t *testing.T) {
	ls, created := newTestLinks()

	l1, fresh, err := ls.Ensure("bob")
	if err != nil || !fresh {
		t.Fatalf("first Ensure: fresh=%v err=%v", fresh, err)
	}
	l2, fresh, err := ls.Ensure("bob")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if fresh {
		t.Fatal("second Ensure must reuse the existing link")
	}
	if l1 != l2 {
		t.Fatal("Ensure returned different links for the same remote")
	}
	if len(*created) != 1 {
		t.Fatalf("factory ran %d times, want 1", len(*created))
	}
	if ls.Count() != 1 {
		t.Fatalf("count = %d, want 1", ls.Count())
	}
}

func TestEnsurePropagatesFactoryError(t *testing.T) {
	boom := errors.New("no transport")
	ls := NewLinks("alice", func() (MediaTransport, error) { return nil, boom }, zerolog.Nop())

	if _, _, err := ls.Ensure("bob"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want factory error", err)
	}
	if ls.Count() != 0 {
		t.Fatal("failed Ensure must not leave an entry behind")
	}
}

func TestCloseRemovesFromSet(t *testing.T) {
	ls, _ := newTestLinks()

	if _, _, err := ls.Ensure("bob"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	ls.Close("bob")
	if ls.Count() != 0 {
		t.Fatalf("count = %d after close, want 0", ls.Count())
	}

	// Closing an absent remote is a no-op.
	ls.Close("bob")
}

func TestTeardownCallbackReportsFinalState(t *testing.T) {
	ls, _ := newTestLinks()
	type event struct {
		remote domain.UserID
		state  LinkState
	}
	var events []event
	ls.OnTeardown(func(remote domain.UserID, state LinkState) {
		events = append(events, event{remote: remote, state: state})
	})

	l, _, err := ls.Ensure("bob")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	l.Fail()

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].remote != "bob" || events[0].state != StateFailed {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestEnsureAfterTeardownCreatesFreshLink(t *testing.T) {
	ls, created := newTestLinks()

	l1, _, err := ls.Ensure("bob")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	l1.Close()

	l2, fresh, err := ls.Ensure("bob")
	if err != nil || !fresh {
		t.Fatalf("Ensure after teardown: fresh=%v err=%v", fresh, err)
	}
	if l1 == l2 {
		t.Fatal("terminal link must never be reused")
	}
	if len(*created) != 2 {
		t.Fatalf("factory ran %d times, want 2", len(*created))
	}
}

func TestStaleTeardownLeavesReplacementAlone(t *testing.T) {
	ls, _ := newTestLinks()

	l1, _, _ := ls.Ensure("bob")
	l1.Close()
	l2, _, _ := ls.Ensure("bob")

	// The old link's teardown already ran; running Close on it again must
	// not evict the replacement.
	l1.Close()
	if got, ok := ls.Get("bob"); !ok || got != l2 {
		t.Fatal("replacement link was evicted by the stale teardown")
	}
}

func TestCloseAll(t *testing.T) {
	ls, created := newTestLinks()
	for _, r := range []domain.UserID{"bob", "carol", "dave"} {
		if _, _, err := ls.Ensure(r); err != nil {
			t.Fatalf("Ensure %s: %v", r, err)
		}
	}

	ls.CloseAll()
	if ls.Count() != 0 {
		t.Fatalf("count = %d after CloseAll, want 0", ls.Count())
	}
	for i, tp := range *created {
		if tp.closes() != 1 {
			t.Fatalf("transport %d closed %d times, want 1", i, tp.closes())
		}
	}
}
