// Package event records the camera's domain events (detections, snapshots,
// clips, session lifecycle) to a human-readable append-only log file, mirrored
// to the structured application logger.
package event

import (
	"fmt"
	"time"
)

// Kind identifies a loggable domain event.
type Kind int

const (
	SessionStarted Kind = iota
	SessionStopped
	PersonDetected
	AlertClosed
	SnapshotSaved
	ManualSnapshot
	ClipStarted
	ClipSaved
	ClipAborted
	Paused
	Resumed
	ThresholdChanged
)

var kindNames = map[Kind]string{
	SessionStarted:   "session_started",
	SessionStopped:   "session_stopped",
	PersonDetected:   "person_detected",
	AlertClosed:      "alert_closed",
	SnapshotSaved:    "snapshot_saved",
	ManualSnapshot:   "manual_snapshot",
	ClipStarted:      "clip_started",
	ClipSaved:        "clip_saved",
	ClipAborted:      "clip_aborted",
	Paused:           "paused",
	Resumed:          "resumed",
	ThresholdChanged: "threshold_changed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Level is the severity written into the log line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Field is a key/value attribute attached to an entry.
type Field struct {
	Key   string
	Value any
}

func String(key, val string) Field        { return Field{Key: key, Value: val} }
func Int(key string, val int) Field       { return Field{Key: key, Value: val} }
func Uint64(key string, val uint64) Field { return Field{Key: key, Value: val} }
func Float64(key string, val float64) Field {
	return Field{Key: key, Value: val}
}
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d}
}
func Time(key string, v time.Time) Field { return Field{Key: key, Value: v} }
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err}
}

// Entry is one event log line before formatting.
type Entry struct {
	At     time.Time
	Level  Level
	Kind   Kind
	Fields []Field
}

// Sink consumes entries. Implementations must be safe for concurrent use.
type Sink interface {
	Record(e Entry)
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(Entry) {}
func (NopSink) Close() error { return nil }

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch t := v.(type) {
	case error:
		return t.Error()
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.2f", t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
