// Package replay implements the append-only JSONL recording format and the
// timed replayer that re-emits a recording to a single client. Format and
// per-session-file layout are adapted from the teacher's
// FileEventHistoryStore, generalized from one-file-per-session to
// one-file-per-sprint-history and from arbitrary agent events to the
// broadcast.Event union.
package replay

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	jsonx "teamclaude/internal/shared/json"
	"teamclaude/internal/infra/filestore"
	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/broadcast"
)

// Record is one recorded line: an event plus its millisecond offset from
// the first recorded event in this file.
type Record struct {
	Timestamp int64           `json:"timestamp"`
	Event     broadcast.Event `json:"event"`
}

// Recorder appends broadcast events to a single JSONL file for the
// currently attached sprint. Attach it to a broadcast.Bus at sprint start
// and detach at sprint stop.
type Recorder struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	started time.Time
	logger  logging.Logger
}

// NewRecorder opens (creating parent dirs as needed) path for append and
// returns a Recorder ready to attach to a broadcast.Bus.
func NewRecorder(path string, logger logging.Logger) (*Recorder, error) {
	if err := filestore.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("replay: ensure dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	return &Recorder{path: path, file: f, logger: logging.OrNop(logger)}, nil
}

// Record appends e as a line, timestamped relative to the first call.
func (r *Recorder) Record(e broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started.IsZero() {
		r.started = time.Now()
	}
	rec := Record{Timestamp: time.Since(r.started).Milliseconds(), Event: e}
	line, err := jsonx.Marshal(rec)
	if err != nil {
		r.logger.Error("replay: marshal record: %v", err)
		return
	}
	line = append(line, '\n')
	if _, err := r.file.Write(line); err != nil {
		r.logger.Error("replay: write record: %v", err)
	}
}

// Close closes the underlying file. Safe to call once, at sprint stop.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// Load reads every record from a recording file, in append order.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := jsonx.Unmarshal(line, &rec); err != nil {
			continue // skip corrupt lines, same discipline as the live decoder
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("replay: scan %s: %w", path, err)
	}
	return records, nil
}

// Sender delivers a single replayed event to one client.
type Sender interface {
	Send(e broadcast.Event)
}

// Session drives timed re-emission of a loaded recording to one client.
// Cancel clears all pending timers; a zero Session is not usable, use
// NewSession.
type Session struct {
	mu      sync.Mutex
	timers  []*time.Timer
	done    chan struct{}
}

// NewSession starts replaying records to sender at the given speed (1.0 is
// real-time; >1 is faster). It sends replay_start immediately and
// replay_complete after the last scheduled event.
func NewSession(records []Record, sender Sender, speed float64) *Session {
	if speed <= 0 {
		speed = 1.0
	}
	s := &Session{done: make(chan struct{})}

	sender.Send(broadcast.Event{
		Type:    broadcast.EventReplayStart,
		Payload: map[string]any{"totalEvents": len(records)},
	})

	for _, rec := range records {
		rec := rec
		delay := time.Duration(float64(rec.Timestamp)/speed) * time.Millisecond
		timer := time.AfterFunc(delay, func() {
			sender.Send(rec.Event)
		})
		s.timers = append(s.timers, timer)
	}

	var lastDelay time.Duration
	if len(records) > 0 {
		last := records[len(records)-1]
		lastDelay = time.Duration(float64(last.Timestamp)/speed)*time.Millisecond + 50*time.Millisecond
	}
	completeTimer := time.AfterFunc(lastDelay, func() {
		sender.Send(broadcast.Event{Type: broadcast.EventReplayComplete})
		close(s.done)
	})
	s.timers = append(s.timers, completeTimer)

	return s
}

// Cancel stops every pending timer; no further events will be sent.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
}

// Done returns a channel closed once replay_complete has been sent.
func (s *Session) Done() <-chan struct{} { return s.done }
