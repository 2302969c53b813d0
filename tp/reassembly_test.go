package tp

import (
	"bytes"
	"math/rand"
	"testing"
)

func testKey() SessionKey {
	return SessionKey{ServiceID: 0x1001, MethodID: 0x0001, ClientID: 0, SessionID: 1}
}

func TestReassembly_OutOfOrder_SpecScenario(t *testing.T) {
	payload := make([]byte, 3000)
	rand.New(rand.NewSource(1)).Read(payload)
	segs := SegmentPayload(payload, 1392)
	order := []int{2, 0, 1}

	r := NewReassembler()
	var got []byte
	var done bool
	var err error
	for _, idx := range order {
		got, done, err = r.Insert(testKey(), segs[idx].Header, segs[idx].Payload)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if !done {
		t.Fatal("expected reassembly to complete after third insert")
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("reassembled payload mismatch")
	}

	// Session must have been discarded.
	if len(r.sessions) != 0 {
		t.Fatalf("expected session map empty, got %d entries", len(r.sessions))
	}
}

func TestReassembly_AnyPermutation(t *testing.T) {
	payload := make([]byte, 5000)
	rand.New(rand.NewSource(2)).Read(payload)
	segs := SegmentPayload(payload, 1392)

	perms := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}
	for _, perm := range perms {
		r := NewReassembler()
		var got []byte
		var done bool
		for _, idx := range perm {
			var err error
			got, done, err = r.Insert(testKey(), segs[idx].Header, segs[idx].Payload)
			if err != nil {
				t.Fatalf("perm %v: Insert: %v", perm, err)
			}
		}
		if !done || !bytes.Equal(got, payload) {
			t.Fatalf("perm %v: reassembly failed", perm)
		}
	}
}

func TestReassembly_SingleSegmentMessage(t *testing.T) {
	payload := []byte("small payload")
	segs := SegmentPayload(payload, 1392)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	r := NewReassembler()
	got, done, err := r.Insert(testKey(), segs[0].Header, segs[0].Payload)
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestReassembly_MisalignedMoreSegmentDiscardsSession(t *testing.T) {
	r := NewReassembler()
	key := testKey()
	_, _, err := r.Insert(key, TPHeader{Offset: 0, More: true}, make([]byte, 10))
	if err == nil {
		t.Fatal("expected alignment violation error")
	}
	if _, ok := r.sessions[key]; ok {
		t.Fatal("session should have been discarded")
	}
}

func TestReassembly_OverlapDiscardsSession(t *testing.T) {
	r := NewReassembler()
	key := testKey()
	r.Insert(key, TPHeader{Offset: 0, More: true}, make([]byte, 32))
	// This second segment overlaps the first (offset 16 falls inside [0,32)):
	// once the final segment arrives, the completeness scan detects it.
	_, done, err := r.Insert(key, TPHeader{Offset: 16, More: false}, make([]byte, 16))
	if done {
		t.Fatal("overlapping segments should not complete")
	}
	if err == nil {
		t.Fatal("expected overlap violation error")
	}
	if _, ok := r.sessions[key]; ok {
		t.Fatal("session should have been discarded after overlap detection")
	}
}

func TestReassembly_DuplicateSegmentIgnored(t *testing.T) {
	r := NewReassembler()
	key := testKey()
	r.Insert(key, TPHeader{Offset: 0, More: true}, make([]byte, 16))
	r.Insert(key, TPHeader{Offset: 0, More: true}, make([]byte, 16))
	got, done, err := r.Insert(key, TPHeader{Offset: 16, More: false}, make([]byte, 4))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !done || len(got) != 20 {
		t.Fatalf("done=%v len=%d, want done=true len=20", done, len(got))
	}
}
