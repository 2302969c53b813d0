package wire

import "testing"

func TestIntegerRoundTrips(t *testing.T) {
	if v, n, err := DeserializeU16(SerializeU16(0xBEEF)); err != nil || v != 0xBEEF || n != 2 {
		t.Fatalf("u16: v=%#x n=%d err=%v", v, n, err)
	}
	if v, n, err := DeserializeI16(SerializeI16(-1)); err != nil || v != -1 || n != 2 {
		t.Fatalf("i16: v=%d n=%d err=%v", v, n, err)
	}
	if v, n, err := DeserializeU32(SerializeU32(0xDEADBEEF)); err != nil || v != 0xDEADBEEF || n != 4 {
		t.Fatalf("u32: v=%#x n=%d err=%v", v, n, err)
	}
	if v, n, err := DeserializeI64(SerializeI64(-123456789)); err != nil || v != -123456789 || n != 8 {
		t.Fatalf("i64: v=%d n=%d err=%v", v, n, err)
	}
}

func TestFloatRoundTrips(t *testing.T) {
	if v, _, err := DeserializeFloat32(SerializeFloat32(3.5)); err != nil || v != 3.5 {
		t.Fatalf("float32: v=%v err=%v", v, err)
	}
	if v, _, err := DeserializeFloat64(SerializeFloat64(-2.25)); err != nil || v != -2.25 {
		t.Fatalf("float64: v=%v err=%v", v, err)
	}
}

func TestBoolRoundTrip(t *testing.T) {
	for _, b := range []bool{true, false} {
		v, n, err := DeserializeBool(SerializeBool(b))
		if err != nil || v != b || n != 1 {
			t.Fatalf("bool(%v): v=%v n=%d err=%v", b, v, n, err)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	const s = "vehicle/speed"
	v, n, err := DeserializeString(SerializeString(s))
	if err != nil {
		t.Fatalf("DeserializeString: %v", err)
	}
	if v != s {
		t.Fatalf("got %q, want %q", v, s)
	}
	if n != 4+len(s) {
		t.Fatalf("n = %d, want %d", n, 4+len(s))
	}
}

func TestStringRoundTrip_Empty(t *testing.T) {
	v, n, err := DeserializeString(SerializeString(""))
	if err != nil || v != "" || n != 4 {
		t.Fatalf("v=%q n=%d err=%v", v, n, err)
	}
}

func TestListBytesRoundTrip(t *testing.T) {
	elements := append(SerializeU32(1), SerializeU32(2)...)
	wrapped := SerializeListBytes(elements)
	got, n, err := DeserializeListBytes(wrapped)
	if err != nil {
		t.Fatalf("DeserializeListBytes: %v", err)
	}
	if string(got) != string(elements) {
		t.Fatalf("elements = % x, want % x", got, elements)
	}
	if n != len(wrapped) {
		t.Fatalf("n = %d, want %d", n, len(wrapped))
	}
}

func TestDeserializeString_TruncatedPayload(t *testing.T) {
	buf := SerializeU32(10)
	if _, _, err := DeserializeString(buf); err == nil {
		t.Fatal("expected error for truncated string payload")
	}
}

func TestDeserializeListBytes_TruncatedPayload(t *testing.T) {
	buf := SerializeU32(100)
	if _, _, err := DeserializeListBytes(buf); err == nil {
		t.Fatal("expected error for truncated list payload")
	}
}
