package wire

import (
	"bytes"
	"net"
	"testing"
)

func TestSDMessageRoundTrip(t *testing.T) {
	m := Message{
		Reboot: true,
		Entries: []Entry{
			{Type: EntryOfferService, NumOpts1st: 1, ServiceID: 0x1234, InstanceID: 1, MajorVersion: 1, TTL: 3, MinorVersion: 10},
			{Type: EntrySubscribeEventgroup, NumOpts1st: 1, ServiceID: 0x1234, InstanceID: 1, MajorVersion: 1, TTL: 5, EventgroupID: 0x10},
		},
		Options: []Option{
			{Type: OptionIPv4Endpoint, Addr: mustParseIP("127.0.0.1"), Protocol: ProtoUDP, Port: 30500},
		},
	}
	back, err := DeserializeSDMessage(SerializeSDMessage(m))
	if err != nil {
		t.Fatalf("DeserializeSDMessage: %v", err)
	}
	if back.Reboot != m.Reboot {
		t.Fatalf("Reboot = %v, want %v", back.Reboot, m.Reboot)
	}
	if len(back.Entries) != len(m.Entries) || len(back.Options) != len(m.Options) {
		t.Fatalf("got %d entries / %d options, want %d / %d", len(back.Entries), len(back.Options), len(m.Entries), len(m.Options))
	}
	for i := range m.Entries {
		if back.Entries[i] != m.Entries[i] {
			t.Fatalf("entry %d mismatch: got %+v, want %+v", i, back.Entries[i], m.Entries[i])
		}
	}
}

func TestBuildSDOffer_SpecScenario(t *testing.T) {
	frame := BuildSDOffer(0x1234, 0x0001, 1, 10, "127.0.0.1", 30500, ProtoUDP, 1, 3)

	h, payload, err := SplitMessage(frame)
	if err != nil {
		t.Fatalf("SplitMessage: %v", err)
	}
	if h.ServiceID != SDServiceIDValue || h.MethodID != SDMethodIDValue || h.MessageType != MsgNotification {
		t.Fatalf("unexpected SD header: %+v", h)
	}

	sd, err := DeserializeSDMessage(payload)
	if err != nil {
		t.Fatalf("DeserializeSDMessage: %v", err)
	}
	if payload[0] != 0x80 {
		t.Fatalf("flags byte = %#x, want 0x80", payload[0])
	}
	if len(sd.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sd.Entries))
	}
	entry := sd.Entries[0]
	if entry.ServiceID != 0x1234 || entry.InstanceID != 0x0001 || entry.MajorVersion != 1 || entry.MinorVersion != 10 {
		t.Fatalf("entry mismatch: %+v", entry)
	}
	if len(sd.Options) != 1 {
		t.Fatalf("expected 1 option, got %d", len(sd.Options))
	}
	opt := sd.Options[0]
	if opt.Type != OptionIPv4Endpoint || !opt.Addr.Equal(mustParseIP("127.0.0.1")) || opt.Protocol != ProtoUDP || opt.Port != 30500 {
		t.Fatalf("option mismatch: %+v", opt)
	}

	// Byte-exactness: option header must read Length=0x0009, Type=0x04.
	optOffset := 16 + 8 + 16 + 4 // SOME/IP header + SD header(8) + one entry(16) + OptionsArrayLength(4)
	if !bytes.Equal(frame[optOffset:optOffset+3], []byte{0x00, 0x09, 0x04}) {
		t.Fatalf("option header = % x, want 00 09 04", frame[optOffset:optOffset+3])
	}
}

func mustParseIP(s string) net.IP {
	ip := parseIPOptionAddr(s)
	if ip == nil {
		panic("bad test IP literal: " + s)
	}
	return ip
}
