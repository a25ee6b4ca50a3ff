package replay

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

var (
	ErrEmptyLog    = errors.New("replay log is empty")
	ErrInvalidSeed = errors.New("first replay frame is not a snapshot")
)

const (
	initialLineBuffer = 64 * 1024
	// Seed frames hold a whole session snapshot on one line.
	maxLineBytes = 64 * 1024 * 1024
)

// Frame is one recorded delta envelope.
type Frame struct {
	Line     int
	At       time.Time
	Updates  []livetiming.Update
	// Rejected counts invocations in the line that could not be decoded.
	Rejected int
}

// Log is a parsed replay file: the seed snapshot and the deltas after it.
type Log struct {
	Seed    map[string]any
	Frames  []Frame
	Skipped int
}

// Load reads an NDJSON replay log. Files ending in .zst are decompressed.
func Load(path string, logger *zap.Logger) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	log, err := Read(r, logger)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	logger.Info("loaded replay log",
		zap.String("path", path),
		zap.Int("frames", len(log.Frames)),
		zap.Int("skipped", log.Skipped),
	)
	return log, nil
}

// Read parses a replay log from r. Malformed delta frames are skipped.
func Read(r io.Reader, logger *zap.Logger) (*Log, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBytes)

	log := &Log{}
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if log.Seed == nil {
			seed, err := parseSeed(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			log.Seed = seed
			continue
		}

		frame, err := parseFrame(line, lineNum)
		if err != nil {
			log.Skipped++
			logger.Warn("skipping replay frame", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		if frame == nil {
			continue
		}
		if frame.Rejected > 0 {
			logger.Warn("dropped malformed updates from replay frame",
				zap.Int("line", lineNum),
				zap.Int("dropped", frame.Rejected),
			)
		}
		log.Frames = append(log.Frames, *frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}

	if log.Seed == nil {
		return nil, ErrEmptyLog
	}
	return log, nil
}

func parseSeed(line []byte) (map[string]any, error) {
	msg, err := livetiming.ParseMessage(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(msg.Snapshot) == 0 {
		return nil, ErrInvalidSeed
	}
	root, err := livetiming.DecodeObject(msg.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return root, nil
}

// parseFrame returns nil, nil for frames that carry no updates.
func parseFrame(line []byte, lineNum int) (*Frame, error) {
	msg, err := livetiming.ParseMessage(line)
	if err != nil {
		return nil, err
	}
	if len(msg.Updates) == 0 {
		if len(msg.Rejected) > 0 {
			return nil, msg.Rejected[0]
		}
		return nil, nil
	}

	at, err := livetiming.ParseTimestamp(msg.Updates[0].Timestamp)
	if err != nil {
		return nil, fmt.Errorf("frame timestamp %q: %w", msg.Updates[0].Timestamp, err)
	}
	return &Frame{Line: lineNum, At: at, Updates: msg.Updates, Rejected: len(msg.Rejected)}, nil
}
