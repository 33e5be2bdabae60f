// Package wire implements the remote-access protocol: newline-framed
// JSON messages multiplexed by client-chosen tags, a server session that
// dispatches onto a local namespace, and a client proxy that re-exposes
// the namespace contract over any byte stream.
package wire

import "bytes"

// Framer splits an incoming byte stream into newline-delimited frames,
// retaining any incomplete tail between pushes. Feeding the same bytes
// in any chunking yields the same frames.
type Framer struct {
	buf []byte
}

// Push appends p to the buffer and returns every complete frame now
// available, without the trailing newline. Empty frames are skipped.
func (f *Framer) Push(p []byte) [][]byte {
	f.buf = append(f.buf, p...)
	var frames [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			return frames
		}
		line := f.buf[:i]
		f.buf = f.buf[i+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		frames = append(frames, frame)
	}
}

// Pending returns the number of buffered bytes awaiting a newline.
func (f *Framer) Pending() int { return len(f.buf) }
