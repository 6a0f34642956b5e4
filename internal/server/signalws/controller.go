// Package signalws is the websocket adapter in front of the registry and
// relay: one authenticated connection per client, a read pump dispatching
// typed frames, and a write pump draining the bounded send channel.
package signalws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/config"
	"github.com/harmonium-chat/harmonium/internal/domain"
	"github.com/harmonium-chat/harmonium/internal/protocol"
	"github.com/harmonium-chat/harmonium/internal/server/auth"
	"github.com/harmonium-chat/harmonium/internal/server/registry"
	"github.com/harmonium-chat/harmonium/internal/server/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	cfg      *config.Config
	registry *registry.Registry
	relay    *relay.Table
	limiter  *JoinLimiter
}

func NewController(cfg *config.Config, reg *registry.Registry, tbl *relay.Table) *Controller {
	return &Controller{
		cfg:      cfg,
		registry: reg,
		relay:    tbl,
		limiter:  NewJoinLimiter(cfg.JoinLimit, cfg.JoinWindow),
	}
}

// session is the connection-scoped state one client accumulates. There is no
// process-wide service object: everything a disconnect must tear down lives
// here or is keyed by the connID.
type session struct {
	id     auth.Identity
	connID domain.ConnID
	conn   *wsConn
}

func (ctl *Controller) HandleVoice(ctx context.Context, c *gin.Context) {
	id := auth.IdentityFrom(c)
	log.Info().Str("module", "signalws").Str("user", string(id.UserID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	sess := &session{
		id:     id,
		connID: domain.ConnID(uuid.NewString()),
		conn:   newWSConn(ws, ctl.cfg.SendBuffer),
	}
	ctl.relay.Bind(id.UserID, sess.connID, sess.conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, sess)
	go ctl.readPump(ctx, sess)
}

func (ctl *Controller) writePump(ctx context.Context, cancel context.CancelFunc, s *session) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signalws").Str("user", string(s.id.UserID)).Msg("writePump ctx done")
			return
		case data, ok := <-s.conn.send:
			if !ok {
				log.Warn().Str("module", "signalws").Str("user", string(s.id.UserID)).Msg("writePump channel closed")
				return
			}
			if err := s.conn.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signalws").Msg("writePump set deadline")
				return
			}
			if err := s.conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signalws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, s *session) {
	defer func() {
		log.Info().Str("module", "signalws").Str("user", string(s.id.UserID)).Msg("readPump closing")
		ctl.onDisconnect(s)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signalws").Str("user", string(s.id.UserID)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(s, data)
		}
	}
}

// onDisconnect releases everything the connection held, synchronously with
// the notification: registry entries first, then leave broadcasts, then the
// relay binding and the socket itself.
func (ctl *Controller) onDisconnect(s *session) {
	for _, dep := range ctl.registry.DropConn(s.connID) {
		ctl.broadcastLeft(dep.ChannelID, dep.Participant, s.connID)
	}
	ctl.relay.Unbind(s.id.UserID, s.connID)
	s.conn.Close()
}

func (ctl *Controller) handleFrame(s *session, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(s, data)
	case protocol.TypeLeave:
		ctl.handleLeave(s, data)
	case protocol.TypeUserUpdate:
		ctl.handleUpdate(s, data)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		ctl.handleSignal(s, data)
	case protocol.TypePing:
		ctl.sendJSON(s.conn, protocol.Envelope{Type: protocol.TypePong})
	default:
		log.Warn().Str("module", "signalws").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, msg string) {
	ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: msg})
}
