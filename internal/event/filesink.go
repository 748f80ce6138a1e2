package event

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// timestampLayout keeps entries second-aligned and lexically sortable.
const timestampLayout = "2006-01-02T15:04:05Z07:00"

// FileSink appends one line per entry to a log file:
//
//	2026-08-30T12:00:05Z INFO person_detected confidence=0.87|count=1
//
// Fields after the message are joined with '|'. Every entry is also mirrored
// to the application logger so events show up in structured output.
type FileSink struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	log *zap.Logger
}

// NewFileSink opens (creating directories as needed) the event log for append.
func NewFileSink(path string, log *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log %s: %w", path, err)
	}
	return &FileSink{f: f, w: bufio.NewWriter(f), log: log}, nil
}

// Record writes and flushes one entry. A write failure is reported to the
// application logger but never propagated: the event log must not take the
// capture pipeline down.
func (s *FileSink) Record(e Entry) {
	line := FormatLine(e)

	s.mu.Lock()
	_, err := s.w.WriteString(line + "\n")
	if err == nil {
		err = s.w.Flush()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("event log write failed", zap.Error(err), zap.String("line", line))
	}
	s.mirror(e)
}

func (s *FileSink) mirror(e Entry) {
	fields := make([]zap.Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		fields = append(fields, zap.Any(f.Key, f.Value))
	}
	switch e.Level {
	case LevelError:
		s.log.Error(e.Kind.String(), fields...)
	case LevelWarn:
		s.log.Warn(e.Kind.String(), fields...)
	default:
		s.log.Info(e.Kind.String(), fields...)
	}
}

// Close flushes buffered lines and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("flushing event log: %w", err)
	}
	return s.f.Close()
}

// FormatLine renders one entry as a log line. Exported for tests and for
// tooling that replays the event log.
func FormatLine(e Entry) string {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	var b strings.Builder
	b.WriteString(at.UTC().Format(timestampLayout))
	b.WriteByte(' ')
	b.WriteString(string(e.Level))
	b.WriteByte(' ')
	b.WriteString(e.Kind.String())
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte('|')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(f.Value))
	}
	return b.String()
}
