// Package jsonl provides an append-only JSONL sink with a single
// writer goroutine per file, so concurrent producers can never
// interleave partial lines.
package jsonl

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const defaultBuffer = 256

// Sink serializes appends to one JSONL file through a single writer
// goroutine. Enqueueing blocks when the buffer is full, which gives
// natural backpressure under load. Each line is written with an
// open-append-close cycle and a lazy parent mkdir, so wiping the log
// directory (a demo reset) does not break subsequent writes.
type Sink struct {
	path string
	ch   chan message
	done chan struct{}

	// mu guards closed and is held across channel sends so Close can
	// never close the channel under an in-flight producer.
	mu     sync.Mutex
	closed bool

	errMu   sync.Mutex
	lastErr error
}

type message struct {
	line []byte
	// ack is non-nil for flush markers; the writer closes it once the
	// queue ahead of it has drained.
	ack chan struct{}
}

// NewSink starts the writer goroutine for the given file path.
func NewSink(path string) *Sink {
	s := &Sink{
		path: path,
		ch:   make(chan message, defaultBuffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Path returns the sink's file path.
func (s *Sink) Path() string {
	return s.path
}

// Append marshals v and enqueues it as one line. It returns an error
// only when the sink is closed or v cannot be marshaled; write
// failures are reported by the writer via Flush and the log.
func (s *Sink) Append(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.AppendLine(line)
}

// AppendLine enqueues a pre-marshaled JSON line.
func (s *Sink) AppendLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink closed: %s", s.path)
	}
	s.ch <- message{line: line}
	return nil
}

// Flush blocks until every line enqueued before the call has been
// written, then returns the first write error since the last Flush.
func (s *Sink) Flush() error {
	ack := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("sink closed: %s", s.path)
	}
	s.ch <- message{ack: ack}
	s.mu.Unlock()

	<-ack
	return s.takeErr()
}

// Close drains the queue, stops the writer, and returns any pending
// write error. Further appends fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done
	return s.takeErr()
}

func (s *Sink) takeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.lastErr
	s.lastErr = nil
	return err
}

func (s *Sink) run() {
	defer close(s.done)
	for msg := range s.ch {
		if msg.ack != nil {
			close(msg.ack)
			continue
		}
		if err := s.write(msg.line); err != nil {
			s.errMu.Lock()
			if s.lastErr == nil {
				s.lastErr = err
			}
			s.errMu.Unlock()
			slog.Error("jsonl append failed", "path", s.path, "error", err)
		}
	}
}

func (s *Sink) write(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("failed to append line: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close log file: %w", cerr)
	}
	return nil
}
