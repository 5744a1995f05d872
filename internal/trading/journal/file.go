package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxLineSize bounds a single journal line; large book snapshots exceed bufio's default.
const maxLineSize = 16 << 20

// Writer appends messages to a JSON-lines journal file.
type Writer struct {
	filePath string
	file     *os.File
	writer   *bufio.Writer
	mu       sync.Mutex
	runID    uuid.UUID
	seq      int64
	logger   *zap.Logger
}

// Create truncates or creates the journal at path. Every record written carries runID.
func Create(path string, runID uuid.UUID, logger *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	logger = logger.Named("journal")
	logger.Info("journal created", zap.String("path", path), zap.Stringer("run_id", runID))
	return &Writer{
		filePath: path,
		file:     f,
		writer:   bufio.NewWriter(f),
		runID:    runID,
		logger:   logger,
	}, nil
}

// Write appends msgs, one line each, in order.
func (w *Writer) Write(msgs ...model.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, msg := range msgs {
		w.seq++
		rec, err := NewRecord(w.runID, w.seq, msg)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return nil
}

// Written is the number of records written so far.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	w.logger.Info("journal closed", zap.String("path", w.filePath), zap.Int64("records", w.seq))
	return nil
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Records int
	Skipped int
}

// Handler receives each decoded message. Returning false stops the replay.
type Handler func(msg model.Message) (bool, error)

// Replay decodes the journal read from r and hands every message to handler.
// Blank lines are ignored; lines that do not decode are logged and skipped.
// A handler error stops the replay.
func Replay(r io.Reader, logger *zap.Logger, handler Handler) (ReplayStats, error) {
	logger = logger.Named("journal")
	var stats ReplayStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			stats.Skipped++
			logger.Error("failed to unmarshal record", zap.Int("line", line), zap.Error(err))
			continue
		}
		msg, err := rec.Message()
		if err != nil {
			stats.Skipped++
			logger.Error("failed to decode message", zap.Int("line", line), zap.Error(err))
			continue
		}

		stats.Records++
		proceed, err := handler(msg)
		if err != nil {
			return stats, fmt.Errorf("replay stopped at line %d: %w", line, err)
		}
		if !proceed {
			logger.Info("replay stopped by handler", zap.Int("records", stats.Records))
			return stats, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("error reading journal: %w", err)
	}

	logger.Info("replay completed", zap.Int("records", stats.Records), zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// ReplayFile replays the journal stored at path.
func ReplayFile(path string, logger *zap.Logger, handler Handler) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer f.Close()
	return Replay(f, logger, handler)
}
