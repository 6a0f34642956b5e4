// Package rest consumes the voice-state REST collaborator: the membership
// snapshot on join, plus the durable voice-state writes.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/harmonium-chat/harmonium/internal/domain"
	"github.com/harmonium-chat/harmonium/internal/protocol"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ChannelUsers fetches the point-in-time participant list for the channel.
func (c *Client) ChannelUsers(ctx context.Context, ch domain.ChannelID) ([]protocol.Participant, error) {
	u := fmt.Sprintf("%s/api/voice-state/channel-users?channelId=%s", c.baseURL, url.QueryEscape(string(ch)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("channel users: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("channel users: unexpected status %d", resp.StatusCode)
	}

	var out []protocol.Participant
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("channel users: decode: %w", err)
	}
	return out, nil
}

type voiceStateBody struct {
	ChannelID domain.ChannelID       `json:"channelId"`
	State     domain.VoiceStatePatch `json:"state"`
}

// JoinVoiceState persists the durable join row.
func (c *Client) JoinVoiceState(ctx context.Context, ch domain.ChannelID, state domain.VoiceStatePatch) error {
	return c.post(ctx, "/api/voice-state/join", voiceStateBody{ChannelID: ch, State: state})
}

// LeaveVoiceState removes the durable row.
func (c *Client) LeaveVoiceState(ctx context.Context, ch domain.ChannelID) error {
	return c.post(ctx, "/api/voice-state/leave", voiceStateBody{ChannelID: ch})
}

// UpdateVoiceState persists a partial voice-state change.
func (c *Client) UpdateVoiceState(ctx context.Context, ch domain.ChannelID, state domain.VoiceStatePatch) error {
	return c.post(ctx, "/api/voice-state/update", voiceStateBody{ChannelID: ch, State: state})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
