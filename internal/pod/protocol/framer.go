package protocol

import "bytes"

// DefaultMaxLineBytes bounds a single line. Transcripts of long recordings
// are the largest messages pods produce.
const DefaultMaxLineBytes = 16 << 20

// Framer reassembles newline delimited lines from arbitrarily sized chunks.
type Framer struct {
	buf        []byte
	max        int
	discarding bool
}

// NewFramer returns a framer that rejects lines longer than max bytes.
// A max <= 0 selects DefaultMaxLineBytes.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}

	return &Framer{max: max}
}

// Feed appends chunk to the buffer and calls emit for every complete line,
// without its trailing newline. The slice passed to emit is only valid for
// the duration of the call.
//
// A line longer than the maximum is discarded up to and including its
// newline, and Feed reports ErrLineTooLong. Framing continues with the
// following line.
func (f *Framer) Feed(chunk []byte, emit func(line []byte)) error {
	var err error

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')

		if f.discarding {
			if i < 0 {
				return err
			}

			f.discarding = false
			chunk = chunk[i+1:]
			continue
		}

		if i < 0 {
			if len(f.buf)+len(chunk) > f.max {
				f.buf = f.buf[:0]
				f.discarding = true
				return ErrLineTooLong
			}

			f.buf = append(f.buf, chunk...)
			return err
		}

		line := chunk[:i]
		if len(f.buf) > 0 {
			f.buf = append(f.buf, line...)
			line = f.buf
		}

		if len(line) > f.max {
			err = ErrLineTooLong
		} else {
			emit(bytes.TrimSuffix(line, []byte{'\r'}))
		}

		f.buf = f.buf[:0]
		chunk = chunk[i+1:]
	}

	return err
}

// Buffered returns the number of bytes of an incomplete trailing line.
func (f *Framer) Buffered() int {
	return len(f.buf)
}
