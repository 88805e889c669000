// Package audit delivers audit events of the frame pipeline to log files, NATS subjects and other sinks
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LdDl/mot-sentry/mot"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// LogSink writes each event as a single JSON line
type LogSink struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewLogSink creates sink over writer
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{
		logger: zerolog.New(w),
	}
}

// OpenDailyLogSink appends to audit_YYYYMMDD.log inside dir (created if missing)
func OpenDailyLogSink(dir string, day time.Time) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "Can't create audit log dir '%s'", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("audit_%s.log", day.Format("20060102")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open audit log '%s'", path)
	}
	sink := NewLogSink(file)
	sink.closer = file
	return sink, nil
}

// Emit implements mot.EventSink
func (s *LogSink) Emit(event mot.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Log().
		Str("id", event.ID.String()).
		Str("event", string(event.Type)).
		Str("timestamp", event.Timestamp.Format(time.RFC3339Nano)).
		Fields(event.Details).
		Send()
	return nil
}

// Close closes underlying file if sink owns it
func (s *LogSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Fanout delivers every event to every sink
type Fanout []mot.EventSink

// Emit implements mot.EventSink. All sinks are attempted; the first error is returned.
func (f Fanout) Emit(event mot.Event) error {
	var firstErr error
	failed := 0
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Emit(event); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return errors.Wrapf(firstErr, "%d of %d audit sinks failed", failed, len(f))
	}
	return nil
}
