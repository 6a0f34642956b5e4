package session

import (
	"context"
)

// reconcile merges the point-in-time REST snapshot with whatever live events
// have already been processed: every member in the snapshot that has no link
// yet gets one, and we initiate the offer side toward them. Members that
// left between the snapshot and now are harmless: the offer is silently
// dropped at the relay and the leave event tears the link down when it
// arrives.
func (s *Session) reconcile(ctx context.Context) error {
	members, err := s.snap.ChannelUsers(ctx, s.channel)
	if err != nil {
		return err
	}

	for _, m := range members {
		if m.UserID == s.self {
			continue
		}
		if _, ok := s.links.Get(m.UserID); ok {
			continue
		}
		link, created, err := s.ensureLink(m.UserID)
		if err != nil {
			s.logger.Error().Err(err).Str("remote", string(m.UserID)).Msg("reconcile: ensure link")
			continue
		}
		if !created {
			// A join broadcast raced us here; that path owns the link now.
			continue
		}
		if err := s.startOffer(ctx, link); err != nil {
			s.logger.Error().Err(err).Str("remote", string(m.UserID)).Msg("reconcile: start offer")
		}
	}
	s.logger.Info().Int("links", s.links.Count()).Msg("reconcile complete")
	return nil
}
