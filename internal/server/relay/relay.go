// Package relay delivers signaling frames: 1:1 by target userId, or
// room-wide broadcasts. It routes opaque frames and never looks inside them.
package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

// Frame is a raw wire payload (already marshaled JSON).
type Frame []byte

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type entry struct {
	connID domain.ConnID
	conn   SignalConnection
}

// Table maps live userIds to their signaling connections. Per-sender
// per-target ordering rides on the single write pump behind each connection;
// the table performs no reordering or batching.
type Table struct {
	mu    sync.RWMutex
	conns map[domain.UserID]entry
}

func NewTable() *Table {
	return &Table{conns: make(map[domain.UserID]entry)}
}

// Bind registers the connection as the user's live signaling endpoint,
// replacing any previous one.
func (t *Table) Bind(uid domain.UserID, connID domain.ConnID, conn SignalConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[uid] = entry{connID: connID, conn: conn}
	log.Info().Str("module", "relay").Str("user", string(uid)).Str("conn", string(connID)).Msg("bound connection")
}

// Unbind removes the user's endpoint, but only while it still points at the
// given connection. A reconnect that already rebound the user is left alone.
func (t *Table) Unbind(uid domain.UserID, connID domain.ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.conns[uid]; ok && e.connID == connID {
		delete(t.conns, uid)
		log.Info().Str("module", "relay").Str("user", string(uid)).Msg("unbound connection")
	}
}

// Relay forwards one frame to the target user. A target with no live
// connection means the frame is silently dropped; the sender recovers
// through the room's eventual-consistency model, not through retries here.
func (t *Table) Relay(from, target domain.UserID, f Frame) bool {
	t.mu.RLock()
	e, ok := t.conns[target]
	t.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "relay").Str("from", string(from)).Str("target", string(target)).Msg("target not connected, frame dropped")
		return false
	}
	if err := e.conn.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("from", string(from)).Str("target", string(target)).Msg("relay send failed")
		return false
	}
	return true
}

// Broadcast fans the frame out to every given participant except the
// originating connection. Participants whose send buffer overflows are
// returned so the caller's backpressure policy can deal with them.
func (t *Table) Broadcast(members []domain.Participant, f Frame, exclude domain.ConnID) []domain.Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var dropped []domain.Participant
	sent := 0
	for _, p := range members {
		if p.ConnID == exclude {
			continue
		}
		e, ok := t.conns[p.UserID]
		if !ok {
			continue
		}
		if err := e.conn.TrySend(f); err != nil {
			dropped = append(dropped, p)
			continue
		}
		sent++
	}
	log.Debug().Str("module", "relay").Int("sent_to", sent).Int("dropped", len(dropped)).Msg("broadcast result")
	return dropped
}
