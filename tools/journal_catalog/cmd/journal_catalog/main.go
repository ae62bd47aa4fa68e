package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	journalcatalog "fortwave/netclient/tools/journal_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing session captures")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	detail := flag.Bool("detail", false, "tally captured events by message type")
	flag.Parse()

	entries, err := journalcatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := journalcatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		manifest := entry.Manifest
		fmt.Printf("%s\n", entry.Dir)
		fmt.Printf("  match: %s  player: %s\n", manifest.MatchID, manifest.PlayerID)
		fmt.Printf("  created: %s\n", manifest.CreatedAt)
		fmt.Printf("  events: %d  snapshots: %d", manifest.Events, manifest.Snapshots)
		if manifest.SeqLast > 0 {
			fmt.Printf("  seq: %d..%d", manifest.SeqFirst, manifest.SeqLast)
		}
		fmt.Println()
		if *detail {
			counts, err := journalcatalog.TypeCounts(entry.Dir)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			kinds := make([]string, 0, len(counts))
			for kind := range counts {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)
			for _, kind := range kinds {
				fmt.Printf("    %s: %d\n", kind, counts[kind])
			}
		}
	}
}
