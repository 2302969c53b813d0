// Package tp implements SOME/IP-TP (spec section 4.5): segmentation of
// oversized payloads into 16-byte-aligned chunks and reassembly with
// out-of-order tolerance and alignment enforcement.
package tp

import "someipd/rterr"

// DefaultMaxSegmentPayload is MAX_SEG_PAYLOAD's default per spec section 4.4.
const DefaultMaxSegmentPayload = 1392

// moreFlag is the 1-bit More-Segments flag occupying the TP header's LSB.
const moreFlag = 0x1

// HeaderSize is the fixed 4-byte length of a TP header.
const HeaderSize = 4

// TPHeader is the 4-byte header placed immediately after the SOME/IP header
// on any message whose MessageType carries the 0x20 TP bit.
type TPHeader struct {
	// Offset is the byte offset of this segment's payload within the full
	// message, always a multiple of 16.
	Offset uint32
	More   bool
}

// SerializeTPHeader packs Offset (in 16-byte units, 28 bits) and More (1 bit)
// into the 4-byte big-endian TP header, with 3 reserved bits left zero.
func SerializeTPHeader(h TPHeader) []byte {
	units := h.Offset / 16
	word := units << 4
	if h.More {
		word |= moreFlag
	}
	return []byte{
		byte(word >> 24),
		byte(word >> 16),
		byte(word >> 8),
		byte(word),
	}
}

// DeserializeTPHeader parses a 4-byte TP header.
func DeserializeTPHeader(data []byte) (TPHeader, error) {
	if len(data) < HeaderSize {
		return TPHeader{}, rterr.New(rterr.KindMalformedTpSegment, "TP header requires 4 bytes")
	}
	word := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return TPHeader{
		Offset: (word >> 4) * 16,
		More:   word&moreFlag != 0,
	}, nil
}

// Segment is one TP-segmented chunk ready to be appended after its own
// SOME/IP header (with MessageType's TP bit set) and TP header.
type Segment struct {
	Header  TPHeader
	Payload []byte
}

// SegmentPayload splits payload into TP segments of at most maxSegPayload
// bytes each. Every non-final segment's length is rounded down to the
// nearest multiple of 16 (m' = (m / 16) * 16); the final segment carries
// More=false and may be any length up to maxSegPayload. maxSegPayload <= 0
// selects DefaultMaxSegmentPayload.
func SegmentPayload(payload []byte, maxSegPayload int) []Segment {
	if maxSegPayload <= 0 {
		maxSegPayload = DefaultMaxSegmentPayload
	}
	chunkSize := (maxSegPayload / 16) * 16
	if chunkSize == 0 {
		chunkSize = 16
	}

	if len(payload) <= maxSegPayload {
		return []Segment{{
			Header:  TPHeader{Offset: 0, More: false},
			Payload: payload,
		}}
	}

	var segments []Segment
	offset := 0
	for offset < len(payload) {
		remaining := len(payload) - offset
		if remaining <= maxSegPayload {
			segments = append(segments, Segment{
				Header:  TPHeader{Offset: uint32(offset), More: false},
				Payload: payload[offset:],
			})
			break
		}
		segments = append(segments, Segment{
			Header:  TPHeader{Offset: uint32(offset), More: true},
			Payload: payload[offset : offset+chunkSize],
		})
		offset += chunkSize
	}
	return segments
}
