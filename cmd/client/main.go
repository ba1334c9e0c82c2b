// A headless mesh participant: joins a room, prints roster / link /
// chat events and relays stdin as chat. Useful for soaking the relay
// and as the reference consumer of the mesh engine.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Ameba1399/MES/internal/adapters/rtc"
	"github.com/Ameba1399/MES/internal/adapters/wsclient"
	"github.com/Ameba1399/MES/internal/mesh"
	"github.com/Ameba1399/MES/internal/protocol"
)

var (
	serverURL string
	room      string
	name      string
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := &cobra.Command{
		Use:   "mes-client",
		Short: "Join a MES room from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080", "signaling server base URL")
	root.Flags().StringVarP(&room, "room", "r", "default", "room to join")
	root.Flags().StringVarP(&name, "name", "n", "guest", "display name")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("client exited")
	}
}

func run(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/ws?room=%s", strings.TrimRight(serverURL, "/"), url.QueryEscape(room))

	ch, err := wsclient.Dial(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}
	defer ch.Close()

	// No local capture in the terminal client: joins receive-only.
	engine := mesh.NewEngine(rtc.NewTransport(nil), ch, nil)

	if err := ch.Send(protocol.Join{DisplayName: name}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	go func() {
		for msg := range ch.Messages() {
			engine.HandleMessage(msg)
		}
		log.Info().Msg("signaling channel closed")
		engine.Close()
	}()

	go printEvents(engine)
	go readStdin(ctx, engine)

	<-ctx.Done()
	engine.Close()
	return nil
}

func printEvents(engine *mesh.Engine) {
	for ev := range engine.Events() {
		switch ev.Kind {
		case mesh.EventRosterAdded:
			log.Info().Str("peer", string(ev.Peer)).Str("name", ev.DisplayName).Msg("peer joined")
		case mesh.EventRosterRemoved:
			log.Info().Str("peer", string(ev.Peer)).Msg("peer left")
		case mesh.EventLinkState:
			log.Info().Str("peer", string(ev.Peer)).Str("state", ev.State.String()).Msg("link")
		case mesh.EventRemoteTrack:
			log.Info().Str("peer", string(ev.Peer)).Str("kind", ev.Track.Kind().String()).Msg("remote track")
		case mesh.EventChat:
			fmt.Printf("<%s> %s\n", ev.Peer, ev.Text)
		case mesh.EventLocalMute:
			log.Info().Str("kind", string(ev.Media)).Bool("enabled", ev.Enabled).Msg("local track toggled")
		case mesh.EventPeerControl:
			log.Info().Str("peer", string(ev.Peer)).Str("kind", string(ev.Media)).Bool("enabled", ev.Enabled).Msg("peer media state")
		case mesh.EventError:
			log.Warn().Err(ev.Err).Str("peer", string(ev.Peer)).Msg("mesh error")
		}
	}
}

func readStdin(ctx context.Context, engine *mesh.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/leave":
			engine.Close()
			return
		case line == "/mute":
			engine.ToggleEnabled(mesh.MediaAudio)
		default:
			if err := engine.SendChat("", line); err != nil {
				log.Warn().Err(err).Msg("send chat")
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
