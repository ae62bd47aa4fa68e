package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fortwave/netclient/internal/config"
	"fortwave/netclient/internal/dispatch"
	"fortwave/netclient/internal/logging"
	"fortwave/netclient/internal/protocol"
	"fortwave/netclient/internal/session"
	"fortwave/netclient/internal/transport"
)

// inputCadence drives the synthetic movement the probe feeds into the session.
const inputCadence = 50 * time.Millisecond

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "netclient: %v\n", err)
		os.Exit(1)
	}
}

// erringMain runs a headless probe client: it creates or joins a match, logs
// every routed update, and feeds synthetic movement until interrupted.
func erringMain() error {
	//1.- Parse flags and load configuration from the environment.
	matchID := flag.String("match", "", "join this match instead of creating a new one")
	wander := flag.Bool("wander", true, "feed synthetic movement input while connected")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel)

	//2.- Normalise the API base URL and build the HTTP dispatcher.
	apiURL, err := serviceURL(cfg.ServerURL)
	if err != nil {
		return err
	}
	client := dispatch.NewClient(apiURL, "", logger, dispatch.WithTimeout(cfg.ActionTimeout))

	//3.- Assemble the session, attaching a websocket transport in stream mode.
	opts := []session.Option{session.WithLogger(logger)}
	if cfg.Mode != config.ModePoll {
		wsURL, err := streamURL(apiURL)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithTransport(transport.NewWebsocketAdapter(wsURL, logger)))
	}
	sess, err := session.New(*cfg, client, opts...)
	if err != nil {
		return err
	}

	sess.Listen("probe", func(msg protocol.ServerMessage) {
		event := logger.Info().Str("type", msg.Type)
		if msg.HasSeq {
			event = event.Uint64("seq", msg.Seq)
		}
		event.Msg("update")
	})

	//4.- Enter the match, creating one unless a match ID was supplied.
	ctx := context.Background()
	var joined protocol.JoinResult
	if *matchID == "" {
		joined, err = sess.Create(ctx)
	} else {
		joined, err = sess.Join(ctx, *matchID)
	}
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("enter match: %w", err)
	}
	logger.Info().
		Str("match", joined.MatchID).
		Str("player", sess.PlayerID()).
		Uint64("seq", joined.State.Seq).
		Msg("match entered")

	//5.- Walk the player in a slow circle so a watching peer sees motion.
	stop := make(chan struct{})
	if *wander {
		go wanderLoop(sess, stop)
	}

	//6.- Wait for an interrupt, then shut the session down cleanly.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	sig := <-signals
	logger.Info().Msgf("received %v signal, closing session", sig)

	close(stop)
	closeErr := sess.Close()

	stats := sess.Stats()
	logger.Info().
		Uint64("applied", stats.Ordering.Applied).
		Uint64("lastApplied", stats.LastApplied).
		Uint64("inputsSent", stats.Input.Sent).
		Uint64("heartbeats", stats.HeartbeatsSent).
		Str("journal", sess.JournalDirectory()).
		Msg("session summary")
	return closeErr
}

// wanderLoop queues a fresh movement sample on every tick until stop closes.
func wanderLoop(sess *session.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(inputCadence)
	defer ticker.Stop()
	angle := 0.0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			angle += 0.1
			sess.QueueInput(math.Cos(angle), math.Sin(angle))
		}
	}
}
