package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"fortwave/netclient/internal/protocol"
)

// maxSnapshotFrameBytes rejects corrupt length prefixes before allocation.
const maxSnapshotFrameBytes = 16 << 20

// SnapshotRecord is one decoded frame of the snapshot log.
type SnapshotRecord struct {
	Seq        uint64
	CapturedAt time.Time
	State      protocol.MatchState
}

// ReadManifest loads the manifest from a session directory.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return Manifest{}, fmt.Errorf("journal: read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("journal: decode manifest: %w", err)
	}
	return manifest, nil
}

// ReadEvents decodes the full event log of a session directory.
func ReadEvents(dir string) ([]EventRecord, error) {
	file, err := os.Open(filepath.Join(dir, eventsName))
	if err != nil {
		return nil, fmt.Errorf("journal: open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	var records []EventRecord
	//1.- Each line is a standalone document, so a partial tail line is fatal.
	for scanner.Scan() {
		var record EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("journal: decode event %d: %w", len(records)+1, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan event log: %w", err)
	}
	return records, nil
}

// ReadSnapshots decodes the length-prefixed snapshot frames of a session
// directory.
func ReadSnapshots(dir string) ([]SnapshotRecord, error) {
	file, err := os.Open(filepath.Join(dir, snapshotsName))
	if err != nil {
		return nil, fmt.Errorf("journal: open snapshot log: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("journal: open zstd stream: %w", err)
	}
	defer decoder.Close()

	var records []SnapshotRecord
	header := make([]byte, 8+8+4)
	for {
		//1.- A clean EOF at a frame boundary terminates the log.
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fmt.Errorf("journal: read snapshot header: %w", err)
		}
		seq := binary.LittleEndian.Uint64(header[0:8])
		capturedAt := time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16]))).UTC()
		length := binary.LittleEndian.Uint32(header[16:20])
		if length > maxSnapshotFrameBytes {
			return nil, fmt.Errorf("journal: snapshot frame of %d bytes exceeds limit", length)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("journal: read snapshot payload: %w", err)
		}
		var state protocol.MatchState
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, fmt.Errorf("journal: decode snapshot %d: %w", len(records)+1, err)
		}
		records = append(records, SnapshotRecord{Seq: seq, CapturedAt: capturedAt, State: state})
	}
}
