package tp

import (
	"sort"
	"sync"
	"time"

	"someipd/rterr"
)

// SessionKey identifies one in-flight TP reassembly, per spec section 4.2's
// TP Session definition.
type SessionKey struct {
	ServiceID uint16
	MethodID  uint16
	ClientID  uint16
	SessionID uint16
}

type chunk struct {
	offset  uint32
	payload []byte
}

type inflight struct {
	chunks        []chunk
	lastSeen      bool
	expectedTotal uint32
	startedAt     time.Time
}

// Reassembler tracks in-flight TP sessions and assembles complete payloads
// as their segments arrive, tolerating out-of-order delivery.
type Reassembler struct {
	mu       sync.Mutex
	sessions map[SessionKey]*inflight
}

// NewReassembler returns a ready-to-use Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{sessions: make(map[SessionKey]*inflight)}
}

// Insert records one segment for key. It returns (payload, true, nil) once
// the session is complete, at which point the session is discarded. A
// segment that violates alignment (More=true with a payload length not a
// multiple of 16) discards the session and returns a KindMalformedTpSegment
// error. Once the final segment has been seen, overlapping segments also
// discard the session with a KindMalformedTpSegment error, while a gap
// leaves the session pending until the missing segments arrive.
func (r *Reassembler) Insert(key SessionKey, h TPHeader, payload []byte) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.More && len(payload)%16 != 0 {
		delete(r.sessions, key)
		return nil, false, rterr.New(rterr.KindMalformedTpSegment, "non-final segment payload is not 16-byte aligned")
	}

	sess, ok := r.sessions[key]
	if !ok {
		sess = &inflight{startedAt: timeNow()}
		r.sessions[key] = sess
	}

	for _, c := range sess.chunks {
		if c.offset == h.Offset {
			// Duplicate/retransmitted segment: ignore, keep existing state.
			return r.checkComplete(key, sess)
		}
	}
	sess.chunks = append(sess.chunks, chunk{offset: h.Offset, payload: payload})

	if !h.More {
		sess.lastSeen = true
		sess.expectedTotal = h.Offset + uint32(len(payload))
	}

	return r.checkComplete(key, sess)
}

// checkComplete must be called with r.mu held.
func (r *Reassembler) checkComplete(key SessionKey, sess *inflight) ([]byte, bool, error) {
	if !sess.lastSeen {
		return nil, false, nil
	}

	sorted := append([]chunk(nil), sess.chunks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })

	var out []byte
	var next uint32
	for _, c := range sorted {
		if c.offset != next {
			// Gap or overlap: still incomplete (gap) or a violation (overlap).
			if c.offset < next {
				delete(r.sessions, key)
				return nil, false, rterr.New(rterr.KindMalformedTpSegment, "overlapping TP segments")
			}
			return nil, false, nil
		}
		out = append(out, c.payload...)
		next = c.offset + uint32(len(c.payload))
	}

	if next != sess.expectedTotal {
		return nil, false, nil
	}

	delete(r.sessions, key)
	return out, true, nil
}

// timeNow is isolated so tests can observe session age without depending on
// wall-clock time elsewhere in the package.
func timeNow() time.Time { return time.Now() }

// Prune discards any session whose first segment arrived before the
// deadline, reclaiming memory from abandoned TP transfers (spec section
// 4.2's TP Session lifetime: "first segment arrival to ... detected
// violation"). It returns the number of sessions discarded.
func (r *Reassembler) Prune(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, sess := range r.sessions {
		if sess.startedAt.Before(olderThan) {
			delete(r.sessions, k)
			n++
		}
	}
	return n
}
