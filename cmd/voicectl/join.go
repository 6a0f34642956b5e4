package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harmonium-chat/harmonium/internal/client/media/capture"
	"github.com/harmonium-chat/harmonium/internal/client/peer"
	"github.com/harmonium-chat/harmonium/internal/client/rest"
	"github.com/harmonium-chat/harmonium/internal/client/session"
	"github.com/harmonium-chat/harmonium/internal/client/signaling"
	"github.com/harmonium-chat/harmonium/internal/domain"
	"github.com/harmonium-chat/harmonium/internal/protocol"
)

var (
	joinUserID string
	joinMuted  bool
	joinCamera bool
	stunServer string
)

var joinCmd = &cobra.Command{
	Use:   "join <channel-id>",
	Short: "Join a voice channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&joinUserID, "user", "", "user id matching the token subject")
	joinCmd.Flags().BoolVar(&joinMuted, "muted", false, "join with microphone muted")
	joinCmd.Flags().BoolVar(&joinCamera, "camera", false, "join with camera on")
	joinCmd.Flags().StringVar(&stunServer, "stun", "stun:stun.l.google.com:19302", "STUN server URL")
	_ = joinCmd.MarkFlagRequired("user")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channel := domain.ChannelID(args[0])
	self := domain.UserID(joinUserID)

	dev, err := capture.NewDevice()
	if err != nil {
		return fmt.Errorf("capture device: %w", err)
	}

	rtcCfg := peer.DefaultRTCConfig([]string{stunServer})
	engine := &webrtc.MediaEngine{}
	dev.PopulateEngine(engine)
	factory := func() (peer.MediaTransport, error) {
		return peer.NewPionTransportWithEngine(rtcCfg, engine)
	}

	wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/api/ws/voice"
	sig := signaling.NewClient(wsURL, token)
	if err := sig.Connect(); err != nil {
		return err
	}
	defer sig.Close()

	api := rest.NewClient(serverURL, token)

	sess := session.New(session.Options{
		Self:      self,
		Signaler:  sig,
		Snapshot:  api,
		Persister: api,
		Factory:   factory,
		Device:    dev,
		Logger:    log.Logger,
		Events: session.Events{
			ParticipantJoined: func(p protocol.Participant) {
				fmt.Printf("» %s joined\n", p.DisplayName)
			},
			ParticipantLeft: func(uid domain.UserID) {
				fmt.Printf("« %s left\n", uid)
			},
			RemoteTrack: func(uid domain.UserID, track *webrtc.TrackRemote) {
				fmt.Printf("● receiving %s from %s\n", track.Kind(), uid)
			},
			LinkFailed: func(uid domain.UserID) {
				fmt.Printf("✗ connection to %s failed\n", uid)
			},
		},
	})

	if err := sess.Join(ctx, channel, joinMuted, joinCamera); err != nil {
		return fmt.Errorf("join %s: %w", channel, err)
	}
	fmt.Printf("joined %s, ctrl-c to leave\n", channel)

	sess.Run(ctx)

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer leaveCancel()
	sess.Leave(leaveCtx)
	return nil
}
