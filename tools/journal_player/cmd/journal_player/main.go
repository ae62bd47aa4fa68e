package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"fortwave/netclient/internal/protocol"
	journalplayer "fortwave/netclient/tools/journal_player"
)

func main() {
	path := flag.String("path", "", "path to a session capture directory or its manifest.json")
	speed := flag.Float64("speed", 0, "pace playback at this multiple of the captured cadence (0 = instant)")
	jsonFlag := flag.Bool("json", false, "dump the whole bundle as JSON instead of replaying")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	bundle, err := journalplayer.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if *jsonFlag {
		//1.- Render the bundle as JSON so callers can pipe the capture elsewhere.
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(bundle); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(3)
		}
		return
	}

	fmt.Printf("%s  match: %s  player: %s\n", bundle.Dir, bundle.Manifest.MatchID, bundle.Manifest.PlayerID)
	player := journalplayer.NewPlayer(bundle, journalplayer.WithSpeed(*speed))
	delivered, err := player.Play(func(msg protocol.ServerMessage) {
		if msg.HasSeq {
			fmt.Printf("  seq %d  %s\n", msg.Seq, msg.Type)
			return
		}
		fmt.Printf("  event  %s\n", msg.Type)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	fmt.Printf("replayed %d events, %d snapshots available\n", delivered, len(bundle.Snapshots))
}
