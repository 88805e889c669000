package main

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/LdDl/mot-sentry/mot"
	"github.com/pkg/errors"
)

// commandReset drops every track, same as pressing 'r' in live view
const commandReset = "reset"

type inputDetection struct {
	BBox       [4]float64 `json:"bbox"`
	TrackID    int64      `json:"track_id"`
	ClassID    int        `json:"class_id"`
	Confidence *float64   `json:"confidence,omitempty"`
	Embedding  []float64  `json:"embedding,omitempty"`
}

// inputLine is a single JSON line of replay stream
type inputLine struct {
	Command    string           `json:"command,omitempty"`
	Frame      int64            `json:"frame"`
	Timestamp  time.Time        `json:"timestamp"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Detections []inputDetection `json:"detections"`
}

// toFrame converts line into frame, drops detections below confidence threshold and collects embeddings.
// With assign set, detections without track_id are kept for the ID assigner which applies its own thresholds.
func (line *inputLine) toFrame(confidenceThreshold float64, assign bool) (*mot.Frame, map[int64][]float64) {
	frame := &mot.Frame{
		Index:      line.Frame,
		Timestamp:  line.Timestamp,
		Width:      line.Width,
		Height:     line.Height,
		Detections: make([]mot.Detection, 0, len(line.Detections)),
	}
	embeddings := make(map[int64][]float64)
	for _, d := range line.Detections {
		detection := mot.Detection{
			BBox:    mot.NewRectFromCorners(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]),
			TrackID: d.TrackID,
			ClassID: d.ClassID,
		}
		if d.Confidence != nil {
			detection.Confidence = *d.Confidence
			if detection.Confidence < confidenceThreshold && !(assign && d.TrackID == 0) {
				continue
			}
		}
		frame.Detections = append(frame.Detections, detection)
		if d.TrackID != 0 && len(d.Embedding) > 0 {
			embeddings[d.TrackID] = d.Embedding
		}
	}
	return frame, embeddings
}

// lineReader yields parsed JSON lines. Blank lines are skipped.
type lineReader struct {
	scanner *bufio.Scanner
	line    int
}

func newLineReader(r io.Reader) *lineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &lineReader{scanner: scanner}
}

// Next returns io.EOF when stream is over
func (r *lineReader) Next() (*inputLine, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		var line inputLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return nil, errors.Wrapf(err, "Bad input at line %d", r.line)
		}
		return &line, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "Can't read input")
	}
	return nil, io.EOF
}

// replayExtractor serves embeddings recorded in the input stream instead of running a face model
type replayExtractor struct {
	mu     sync.Mutex
	frames map[int64]map[int64][]float64
}

func newReplayExtractor() *replayExtractor {
	return &replayExtractor{
		frames: make(map[int64]map[int64][]float64),
	}
}

// Put stores embeddings of frame, replacing previously stored frames
func (e *replayExtractor) Put(frameIndex int64, embeddings map[int64][]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = map[int64]map[int64][]float64{frameIndex: embeddings}
}

// Extract implements mot.FaceExtractor
func (e *replayExtractor) Extract(ctx context.Context, frame *mot.Frame, trackID int64, _ image.Rectangle) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames[frame.Index][trackID], nil
}
