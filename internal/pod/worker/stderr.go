package worker

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// stderrSink forwards stderr lines to the logger and keeps a bounded tail.
// Stderr is diagnostic output only, it is never parsed.
type stderrSink struct {
	mu      sync.Mutex
	partial []byte
	tail    []byte
	max     int
	log     *zap.Logger
}

func newStderrSink(log *zap.Logger, max int) *stderrSink {
	return &stderrSink{
		max: max,
		log: log.Named("stderr"),
	}
}

func (s *stderrSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tail = append(s.tail, p...)
	if over := len(s.tail) - s.max; over > 0 {
		s.tail = s.tail[over:]
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}

		s.log.Debug(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
	}

	if len(s.partial) > s.max {
		s.log.Debug(string(s.partial))
		s.partial = nil
	}

	return len(p), nil
}

// Flush logs an incomplete trailing line.
func (s *stderrSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.partial) > 0 {
		s.log.Debug(string(s.partial))
		s.partial = nil
	}
}

// Tail returns the last bytes written to stderr.
func (s *stderrSink) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return string(s.tail)
}
