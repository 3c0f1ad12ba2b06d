package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/client"
	"github.com/dkeye/Watch/internal/config"
	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/media"
	"github.com/dkeye/Watch/internal/rtc"
	"github.com/dkeye/Watch/internal/sync"
	"github.com/dkeye/Watch/internal/transport"
	"github.com/dkeye/Watch/internal/voice"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cc := cfg.Client

	wsURL := fmt.Sprintf("%s/%s?username=%s", cc.RelayURL, url.PathEscape(cc.Room), url.QueryEscape(cc.Username))
	trans := transport.NewClient(wsURL)
	if err := trans.Connect(); err != nil {
		log.Fatal().Err(err).Str("url", wsURL).Msg("relay connect failed")
	}

	player := media.NewSimPlayer(nil)
	player.SetSource(cc.Room)

	self := domain.ParticipantID(cc.Username)
	sess := client.NewSession(client.Params{
		Self:      self,
		Transport: trans,
		Player:    player,
		Sync: sync.Options{
			DriftThreshold: cc.DriftThreshold,
			SeekThreshold:  cc.SeekThreshold,
			GuardWindow:    cc.GuardWindow,
			SoloTimeout:    cc.SoloTimeout,
		},
		NewConn: rtc.NewFactory(cc.ICEServers),
		Acquire: func() (voice.CaptureSource, error) {
			return rtc.NewSilenceCapture(string(self))
		},
		OnStream: func(peer domain.ParticipantID, track *webrtc.TrackRemote) {
			log.Info().Str("peer", string(peer)).Str("codec", track.Codec().MimeType).Msg("remote audio available")
		},
		OnStreamGone: func(peer domain.ParticipantID) {
			log.Info().Str("peer", string(peer)).Msg("remote audio gone")
		},
		OnNotice: func(text string) {
			log.Info().Str("notice", text).Msg("room notice")
		},
	})

	// A headless player is seekable as soon as the source is set.
	player.LoadMetadata()

	log.Info().Str("room", cc.Room).Str("username", cc.Username).Msg("joined room")
	sess.Run(ctx)
}
