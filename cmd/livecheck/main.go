// Command livecheck opens one Gemini Live session, sends a text turn and
// prints what comes back. It needs GEMINI_API_KEY.
package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/room4-2/voicebridge/config"
	"github.com/room4-2/voicebridge/gemini"
	"github.com/room4-2/voicebridge/logger"
	"github.com/room4-2/voicebridge/upstream"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog := logger.Default("info", "console")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.Default(cfg.LogLevel, "console")

	text := flag.String("text", "Hello! Say hi back in one sentence.", "message to send")
	timeout := flag.Duration("timeout", 15*time.Second, "how long to wait for the turn")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := check(ctx, cfg, *text, log); err != nil {
		log.Fatal().Err(err).Msg("live check failed")
	}
	log.Info().Msg("✅ done")
}

func check(ctx context.Context, cfg *config.Config, text string, log zerolog.Logger) error {
	connector, err := gemini.NewConnector(ctx, cfg.GeminiAPIKey, log)
	if err != nil {
		return err
	}

	session, err := connector.Open(ctx, upstream.Config{
		Model:             cfg.GeminiModel,
		SystemInstruction: "You are a helpful assistant. Keep responses brief.",
		Voice:             cfg.Voice,
		Generation:        upstream.DefaultGenerationConfig,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.SendText(ctx, text); err != nil {
		return err
	}
	log.Info().Str("text", text).Msg("📤 sent")

	audioBytes := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-session.Events():
			if !ok {
				return errors.New("session closed before the turn completed")
			}
			switch ev.Kind {
			case upstream.EventOpened:
				log.Info().Msg("🔌 upstream open")
			case upstream.EventAudio:
				audioBytes += len(ev.Audio)
			case upstream.EventText:
				log.Info().Str("text", ev.Text).Msg("💬 text")
			case upstream.EventError:
				return ev.Err
			case upstream.EventTurnComplete:
				log.Info().Int("audio_bytes", audioBytes).Msg("🔊 turn complete")
				return nil
			case upstream.EventClosed:
				return errors.New("session closed before the turn completed")
			}
		}
	}
}
