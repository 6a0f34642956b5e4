package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/harmonium-chat/harmonium/internal/domain"
	"github.com/harmonium-chat/harmonium/internal/protocol"
	"github.com/harmonium-chat/harmonium/internal/server/auth"
	"github.com/harmonium-chat/harmonium/internal/server/registry"
	"github.com/harmonium-chat/harmonium/internal/server/store"
)

type voiceStateAPI struct {
	registry *registry.Registry
	states   *store.VoiceStates
}

// channelUsers serves the point-in-time membership snapshot the presence
// reconciler consumes. It reads the live registry, not the persisted rows:
// the registry is the source of truth for who is present right now.
func (a *voiceStateAPI) channelUsers(c *gin.Context) {
	ch := domain.ChannelID(c.Query("channelId"))
	if ch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channelId required"})
		return
	}
	members := a.registry.Snapshot(ch)
	out := make([]protocol.Participant, 0, len(members))
	for _, m := range members {
		out = append(out, protocol.FromDomain(m))
	}
	c.JSON(http.StatusOK, out)
}

type voiceStateBody struct {
	ChannelID domain.ChannelID       `json:"channelId" binding:"required"`
	State     domain.VoiceStatePatch `json:"state"`
}

func (a *voiceStateAPI) join(c *gin.Context) {
	id := auth.IdentityFrom(c)
	var body voiceStateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	p := domain.Participant{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		State:       body.State.Apply(domain.VoiceState{}),
	}
	if err := a.states.Save(c.Request.Context(), body.ChannelID, p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *voiceStateAPI) leave(c *gin.Context) {
	id := auth.IdentityFrom(c)
	var body voiceStateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	if err := a.states.Delete(c.Request.Context(), body.ChannelID, id.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *voiceStateAPI) update(c *gin.Context) {
	id := auth.IdentityFrom(c)
	var body voiceStateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	rows, err := a.states.ListByChannel(c.Request.Context(), body.ChannelID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist_failed"})
		return
	}
	state := domain.VoiceState{}
	display := id.DisplayName
	for _, row := range rows {
		if row.UserID == string(id.UserID) {
			state = domain.VoiceState{
				Muted:         row.Muted,
				CameraOn:      row.CameraOn,
				Deafened:      row.Deafened,
				ScreenSharing: row.ScreenSharing,
			}
			display = row.DisplayName
			break
		}
	}
	p := domain.Participant{
		UserID:      id.UserID,
		DisplayName: display,
		State:       body.State.Apply(state),
	}
	if err := a.states.Save(c.Request.Context(), body.ChannelID, p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist_failed"})
		return
	}
	log.Debug().Str("module", "httpapi").Str("user", string(id.UserID)).Msg("voice state updated")
	c.Status(http.StatusNoContent)
}
