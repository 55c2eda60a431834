package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/arach/talkie-sub016/internal/pod/protocol"
	"go.uber.org/zap"
)

const (
	// readChunkSize is the size of a single read from a pod's stdout.
	readChunkSize = 32 << 10

	// inboxSize buffers decoded messages between the reader and the pod.
	inboxSize = 64
)

// lineReader drains a pod's stdout, reassembles lines and decodes them.
// It runs on its own goroutine and never waits on a pending request.
type lineReader struct {
	capability string
	framer     *protocol.Framer
	metrics    *metrics
	log        *zap.Logger
}

func newLineReader(capability string, maxLineBytes int, metrics *metrics, log *zap.Logger) *lineReader {
	return &lineReader{
		capability: capability,
		framer:     protocol.NewFramer(maxLineBytes),
		metrics:    metrics,
		log:        log.Named("reader"),
	}
}

// run reads r until EOF and sends decoded messages to out, closing out when
// done. Once ctx is cancelled the stream is still drained, so the pod never
// blocks on a full pipe, but nothing is dispatched anymore.
func (r *lineReader) run(ctx context.Context, src io.Reader, out chan<- protocol.Message) {
	defer close(out)

	emit := func(line []byte) {
		if len(bytes.TrimSpace(line)) == 0 {
			return
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			r.drop(err)
			return
		}

		if ctx.Err() != nil {
			return
		}

		out <- msg
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if ferr := r.framer.Feed(buf[:n], emit); ferr != nil {
				r.drop(ferr)
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.log.Debug("read failed", zap.Error(err))
			}

			if n := r.framer.Buffered(); n > 0 {
				r.log.With(zap.Int("bytes", n)).Debug("discarding incomplete trailing line")
			}

			return
		}
	}
}

func (r *lineReader) drop(err error) {
	reason := "malformed"

	switch {
	case errors.Is(err, protocol.ErrUnknownControl):
		reason = "unknown_control"
	case errors.Is(err, protocol.ErrLineTooLong):
		reason = "too_long"
	}

	r.log.With(zap.String("reason", reason), zap.Error(err)).Debug("dropping line")
	r.metrics.dropped.WithLabelValues(r.capability, reason).Inc()
}
