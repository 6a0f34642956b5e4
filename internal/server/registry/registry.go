// Package registry tracks which authenticated connections belong to which
// voice channel. It is the single writer of room membership; every mutation
// is serialized under one lock so snapshots are linearizable with respect
// to concurrent joins.
package registry

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/domain"
)

var (
	ErrAlreadyMember    = errors.New("already a member of this channel")
	ErrInAnotherChannel = errors.New("connection already in another channel")
)

type room struct {
	byUser map[domain.UserID]*domain.Participant
	byConn map[domain.ConnID]domain.UserID
}

func newRoom() *room {
	return &room{
		byUser: make(map[domain.UserID]*domain.Participant),
		byConn: make(map[domain.ConnID]domain.UserID),
	}
}

// Registry is a threadsafe in-memory channel membership table. It never
// touches transport resources; connections are referenced by ConnID only.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.ChannelID]*room
	conns map[domain.ConnID]domain.ChannelID
}

func New() *Registry {
	return &Registry{
		rooms: make(map[domain.ChannelID]*room),
		conns: make(map[domain.ConnID]domain.ChannelID),
	}
}

// Join admits the participant into the channel. A userId that already holds
// an entry is rejected with ErrAlreadyMember: rejoin is not silently merged,
// the caller must leave first. A connection holds at most one channel at a
// time; a join while it is still in another channel is rejected with
// ErrInAnotherChannel.
func (r *Registry) Join(ch domain.ChannelID, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[p.ConnID]; ok && cur != ch {
		return ErrInAnotherChannel
	}
	rm, ok := r.rooms[ch]
	if !ok {
		rm = newRoom()
		r.rooms[ch] = rm
	}
	if _, ok := rm.byUser[p.UserID]; ok {
		return ErrAlreadyMember
	}
	cp := p
	rm.byUser[p.UserID] = &cp
	rm.byConn[p.ConnID] = p.UserID
	r.conns[p.ConnID] = ch
	log.Info().Str("module", "registry").Str("channel", string(ch)).Str("user", string(p.UserID)).Msg("member joined")
	return nil
}

// Leave removes the connection's participant from the channel. Duplicate
// leave calls are a no-op, not an error, to tolerate disconnect races.
// The removed participant is returned so callers can broadcast it.
func (r *Registry) Leave(ch domain.ChannelID, conn domain.ConnID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(ch, conn)
}

func (r *Registry) leaveLocked(ch domain.ChannelID, conn domain.ConnID) (domain.Participant, bool) {
	rm, ok := r.rooms[ch]
	if !ok {
		return domain.Participant{}, false
	}
	uid, ok := rm.byConn[conn]
	if !ok {
		return domain.Participant{}, false
	}
	p := rm.byUser[uid]
	delete(rm.byUser, uid)
	delete(rm.byConn, conn)
	delete(r.conns, conn)
	if len(rm.byUser) == 0 {
		delete(r.rooms, ch)
	}
	log.Info().Str("module", "registry").Str("channel", string(ch)).Str("user", string(uid)).Msg("member left")
	return *p, true
}

// Update merges the patch into the connection's participant record. A patch
// from a non-member fails silently: logged, not surfaced.
func (r *Registry) Update(ch domain.ChannelID, conn domain.ConnID, patch domain.VoiceStatePatch) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[ch]
	if !ok {
		log.Warn().Str("module", "registry").Str("channel", string(ch)).Msg("update for unknown channel")
		return domain.Participant{}, false
	}
	uid, ok := rm.byConn[conn]
	if !ok {
		log.Warn().Str("module", "registry").Str("channel", string(ch)).Str("conn", string(conn)).Msg("update from non-member")
		return domain.Participant{}, false
	}
	p := rm.byUser[uid]
	p.State = patch.Apply(p.State)
	return *p, true
}

// Snapshot returns the channel's current participant list. It runs under the
// same lock as Join, so a snapshot never omits a join acknowledged before it.
func (r *Registry) Snapshot(ch domain.ChannelID) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[ch]
	if !ok {
		return nil
	}
	out := make([]domain.Participant, 0, len(rm.byUser))
	for _, p := range rm.byUser {
		out = append(out, *p)
	}
	return out
}

// Departure pairs a removed participant with the channel it was removed from.
type Departure struct {
	ChannelID   domain.ChannelID
	Participant domain.Participant
}

// DropConn removes the connection's membership, if any, and returns the
// departure so the caller can broadcast the leave. A connection is in at
// most one channel, so the slice holds zero or one entries.
func (r *Registry) DropConn(conn domain.ConnID) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.conns[conn]
	if !ok {
		return nil
	}
	if p, ok := r.leaveLocked(ch, conn); ok {
		return []Departure{{ChannelID: ch, Participant: p}}
	}
	return nil
}

// MemberCount reports the channel's current size. Zero for unknown channels.
func (r *Registry) MemberCount(ch domain.ChannelID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[ch]
	if !ok {
		return 0
	}
	return len(rm.byUser)
}

type ChannelInfo struct {
	ChannelID   domain.ChannelID `json:"channelId"`
	MemberCount int              `json:"memberCount"`
}

// Channels lists the currently live channels for introspection endpoints.
func (r *Registry) Channels() []ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(r.rooms))
	for ch, rm := range r.rooms {
		out = append(out, ChannelInfo{ChannelID: ch, MemberCount: len(rm.byUser)})
	}
	return out
}
