package reactor

import "someipd/wire"

// streamFramer extracts complete SOME/IP messages from a TCP byte stream,
// keeping partial bytes across reads (spec section 4.4's TCP framing rule:
// read the Length field, consume 8 + Length bytes).
type streamFramer struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete frame now
// available, leaving any trailing partial frame buffered for next time.
func (f *streamFramer) Feed(data []byte) [][]byte {
	f.buf = append(f.buf, data...)

	var frames [][]byte
	for {
		if len(f.buf) < wire.HeaderSize {
			break
		}
		h, err := wire.DeserializeHeader(f.buf)
		if err != nil {
			break
		}
		total := wire.HeaderSize + int(h.PayloadLength())
		if len(f.buf) < total {
			break
		}
		frame := make([]byte, total)
		copy(frame, f.buf[:total])
		frames = append(frames, frame)
		f.buf = f.buf[total:]
	}
	return frames
}
