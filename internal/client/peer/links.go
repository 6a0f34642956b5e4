package peer

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

// Links is the active link set: at most one live Link per remote userId.
// Ensure looks up before creating, so a join broadcast racing the snapshot
// reconciliation can never produce duplicate transports.
type Links struct {
	mu      sync.Mutex
	self    domain.UserID
	m       map[domain.UserID]*Link
	factory TransportFactory
	logger  zerolog.Logger

	// onTeardown is invoked after a link leaves the set, with its final state.
	onTeardown func(domain.UserID, LinkState)
}

func NewLinks(self domain.UserID, factory TransportFactory, logger zerolog.Logger) *Links {
	return &Links{
		self:    self,
		m:       make(map[domain.UserID]*Link),
		factory: factory,
		logger:  logger,
	}
}

// OnTeardown registers a callback for links leaving the active set.
func (ls *Links) OnTeardown(fn func(domain.UserID, LinkState)) {
	ls.mu.Lock()
	ls.onTeardown = fn
	ls.mu.Unlock()
}

// Ensure returns the live link for the remote, creating it when absent.
// The second result reports whether a new link was created.
func (ls *Links) Ensure(remote domain.UserID) (*Link, bool, error) {
	ls.mu.Lock()
	if l, ok := ls.m[remote]; ok {
		ls.mu.Unlock()
		return l, false, nil
	}
	ls.mu.Unlock()

	tp, err := ls.factory()
	if err != nil {
		return nil, false, err
	}

	ls.mu.Lock()
	if l, ok := ls.m[remote]; ok {
		// Lost the creation race; discard the extra transport.
		ls.mu.Unlock()
		tp.Close()
		return l, false, nil
	}
	l := NewLink(ls.self, remote, tp, ls.logger, ls.removeTerminal)
	ls.m[remote] = l
	ls.mu.Unlock()
	return l, true, nil
}

// Get returns the live link for the remote, if any.
func (ls *Links) Get(remote domain.UserID) (*Link, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	l, ok := ls.m[remote]
	return l, ok
}

// Close tears down the remote's link if one exists. Idempotent.
func (ls *Links) Close(remote domain.UserID) {
	if l, ok := ls.Get(remote); ok {
		l.Close()
	}
}

// CloseAll tears down every live link; used on local leave and disconnect.
func (ls *Links) CloseAll() {
	for _, l := range ls.snapshot() {
		l.Close()
	}
}

// Count reports the number of live links.
func (ls *Links) Count() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.m)
}

// Each visits a snapshot of the live links.
func (ls *Links) Each(fn func(*Link)) {
	for _, l := range ls.snapshot() {
		fn(l)
	}
}

func (ls *Links) snapshot() []*Link {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]*Link, 0, len(ls.m))
	for _, l := range ls.m {
		out = append(out, l)
	}
	return out
}

// removeTerminal drops a finished link from the set. The pointer comparison
// keeps a replacement link (created after a teardown) safe from the old
// link's callback.
func (ls *Links) removeTerminal(l *Link) {
	ls.mu.Lock()
	if cur, ok := ls.m[l.remote]; ok && cur == l {
		delete(ls.m, l.remote)
	}
	fn := ls.onTeardown
	ls.mu.Unlock()
	if fn != nil {
		fn(l.remote, l.State())
	}
}
