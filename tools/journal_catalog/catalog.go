package journalcatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fortwave/netclient/internal/journal"
)

// Entry pairs a captured session directory with its parsed manifest.
type Entry struct {
	Dir      string           `json:"dir"`
	Manifest journal.Manifest `json:"manifest"`
}

// List walks the directory tree and returns every session capture found.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- A session capture is any directory holding a manifest.json.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "manifest.json" {
			return nil
		}
		dir := filepath.Dir(path)
		manifest, err := journal.ReadManifest(dir)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Dir: dir, Manifest: manifest})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Dir < entries[j].Dir
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	//1.- Marshal with indentation to keep CLI output legible for operators.
	return json.MarshalIndent(entries, "", "  ")
}

// TypeCounts tallies the captured events of one session by message type.
func TypeCounts(dir string) (map[string]int, error) {
	events, err := journal.ReadEvents(dir)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(events))
	for _, event := range events {
		counts[event.Type]++
	}
	return counts, nil
}
