// Command voiceclient talks to the relay from a terminal: microphone in,
// speaker out, typed messages and barge-in from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gordonklaus/portaudio"
	"github.com/room4-2/voicebridge/audio"
	"github.com/room4-2/voicebridge/client"
	"github.com/room4-2/voicebridge/config"
	"github.com/room4-2/voicebridge/logger"
	"github.com/room4-2/voicebridge/messages"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const help = `commands:
  /mic          start streaming the microphone
  /nomic        stop the microphone
  /barge        interrupt the assistant
  /pause        pause playback
  /resume       resume playback
  /lang <code>  reply language (auto, en, hi, bn, ta, te, kn)
  /quit         disconnect and exit
anything else is sent as a text message`

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		logger.Default("info", "console").Fatal().Err(err).Msg("failed to load config")
	}

	serverURL := flag.String("server", cfg.ServerURL, "relay WebSocket URL")
	lang := flag.String("lang", cfg.Language, "reply language code")
	block := flag.Int("block", cfg.BlockSize, "microphone frames per callback")
	micRate := flag.Int("mic-rate", 48000, "microphone sample rate")
	outRate := flag.Int("out-rate", 48000, "speaker sample rate")
	wavPath := flag.String("wav", "", "also write received audio to this WAV file")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level")
	flag.Parse()

	log := logger.Default(*logLevel, "console")

	if err := run(log, *serverURL, messages.LanguageCode(*lang), *block, *micRate, *outRate, *wavPath); err != nil {
		log.Fatal().Err(err).Msg("voice client failed")
	}
}

func run(log zerolog.Logger, url string, lang messages.LanguageCode, block, micRate, outRate int, wavPath string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	player := audio.NewPlayer()
	spk, err := openSpeaker(outRate, player)
	if err != nil {
		return err
	}
	defer spk.Close()

	var rec *wavRecorder
	if wavPath != "" {
		rec, err = newWavRecorder(wavPath, audio.OutputRate)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to finish wav file")
			}
		}()
	}

	opts := client.Options{
		URL:          url,
		Language:     lang,
		Player:       player,
		PlaybackRate: outRate,
		Log:          log,
		OnState: func(s client.State) {
			log.Info().Str("state", s.String()).Msg("🔌 connection")
		},
		OnTranscript: func(e client.TranscriptEntry) {
			if e.Role == client.RoleAssistant {
				fmt.Printf("🤖 %s\n", e.Text)
			}
		},
		OnTool: func(name string) {
			fmt.Printf("🔧 consulting %s...\n", name)
		},
	}
	if rec != nil {
		opts.OnAudio = rec.Write
	}
	ctrl := client.NewController(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("url", url).Msg("connecting")
	if err := ctrl.Connect(ctx); err != nil {
		return err
	}
	fmt.Println(help)

	mic := newMicDevice(micRate, block)
	lines := readLines(os.Stdin)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := ctrl.Wait()
		stop()
		return err
	})
	g.Go(func() error {
		return repl(gctx, ctrl, player, mic, lines, stop, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		return ctrl.Disconnect()
	})
	return g.Wait()
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func repl(ctx context.Context, ctrl *client.Controller, player *audio.Player, mic client.Microphone, lines <-chan string, quit func(), log zerolog.Logger) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				quit()
				return nil
			}
			line = strings.TrimSpace(l)
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "/quit":
			quit()
			return nil
		case "/mic":
			if err := ctrl.StartMic(mic); err != nil {
				log.Warn().Err(err).Msg("microphone unavailable")
				continue
			}
			fmt.Println("🎤 listening")
		case "/nomic":
			if err := ctrl.StopMic(); err != nil {
				log.Warn().Err(err).Msg("failed to stop microphone")
			}
			fmt.Println("🎤 off")
		case "/barge":
			if ctrl.BargeIn() {
				fmt.Println("✋ interrupted")
			}
		case "/pause":
			player.Pause()
		case "/resume":
			player.Resume()
		case "/lang":
			code := messages.LanguageCode(strings.TrimSpace(arg))
			if _, ok := messages.LookupLanguage(code); !ok {
				fmt.Printf("unknown language %q\n", code)
				continue
			}
			ctrl.SetLanguage(code)
			fmt.Printf("🌐 reply language: %s\n", ctrl.Language())
		default:
			if err := ctrl.SendText(line); err != nil {
				if errors.Is(err, client.ErrNotConnected) {
					fmt.Println("not connected yet")
					continue
				}
				log.Warn().Err(err).Msg("failed to send text")
			}
		}
	}
}
