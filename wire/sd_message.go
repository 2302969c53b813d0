package wire

import (
	"net"

	"someipd/rterr"
)

func parseIPOptionAddr(ip string) net.IP {
	return net.ParseIP(ip)
}

// rebootFlag is bit 7 of the SD Flags byte (spec section 4.3).
const rebootFlag = 0x80

// Message is a decoded SOME/IP-SD payload: the Flags/Reserved header plus
// the entries and options arrays. It carries no SOME/IP header of its own;
// callers wrap it with Header{ServiceID: SDServiceIDValue, MethodID:
// SDMethodIDValue, MessageType: MsgNotification, ...} via BuildMessage.
type Message struct {
	Reboot  bool
	Entries []Entry
	Options []Option
}

// SerializeSDMessage encodes m as the SD payload: 1 byte Flags, 3 reserved
// bytes, 4-byte EntriesArrayLength, entries, 4-byte OptionsArrayLength,
// options.
func SerializeSDMessage(m Message) []byte {
	entriesBuf := make([]byte, 0, len(m.Entries)*EntrySize)
	for _, e := range m.Entries {
		entriesBuf = append(entriesBuf, SerializeEntry(e)...)
	}
	optionsBuf := make([]byte, 0)
	for _, o := range m.Options {
		optionsBuf = append(optionsBuf, SerializeOption(o)...)
	}

	flags := byte(0)
	if m.Reboot {
		flags |= rebootFlag
	}

	out := make([]byte, 0, 8+len(entriesBuf)+4+len(optionsBuf))
	out = append(out, flags, 0, 0, 0)
	out = append(out, SerializeU32(uint32(len(entriesBuf)))...)
	out = append(out, entriesBuf...)
	out = append(out, SerializeU32(uint32(len(optionsBuf)))...)
	out = append(out, optionsBuf...)
	return out
}

// DeserializeSDMessage parses an SD payload (the bytes following the 16-byte
// SOME/IP header). A malformed entries/options length, or an entry/option
// that fails to parse, is a KindMalformedSDPacket error for the whole
// message; option index resolution is left to callers (spec section 4.3:
// a bad index discards only that entry, not the message).
func DeserializeSDMessage(data []byte) (Message, error) {
	if len(data) < 8 {
		return Message{}, rterr.New(rterr.KindMalformedSDPacket, "SD header requires at least 8 bytes")
	}
	m := Message{Reboot: data[0]&rebootFlag != 0}

	entriesLen := int(SerializeU32ToUint(data[4:8]))
	off := 8
	if off+entriesLen > len(data) {
		return Message{}, rterr.New(rterr.KindMalformedSDPacket, "EntriesArrayLength exceeds buffer")
	}
	entriesEnd := off + entriesLen
	for off < entriesEnd {
		if off+EntrySize > entriesEnd {
			return Message{}, rterr.New(rterr.KindMalformedSDPacket, "trailing bytes in entries array")
		}
		e, err := DeserializeEntry(data[off : off+EntrySize])
		if err != nil {
			return Message{}, err
		}
		m.Entries = append(m.Entries, e)
		off += EntrySize
	}

	if off+4 > len(data) {
		return Message{}, rterr.New(rterr.KindMalformedSDPacket, "missing OptionsArrayLength")
	}
	optionsLen := int(SerializeU32ToUint(data[off : off+4]))
	off += 4
	if off+optionsLen > len(data) {
		return Message{}, rterr.New(rterr.KindMalformedSDPacket, "OptionsArrayLength exceeds buffer")
	}
	optionsEnd := off + optionsLen
	for off < optionsEnd {
		o, n, err := DeserializeOption(data[off:optionsEnd])
		if err != nil {
			return Message{}, err
		}
		m.Options = append(m.Options, o)
		off += n
	}

	return m, nil
}

// BuildSDOffer constructs the full wire frame (SOME/IP header + SD payload)
// for a single OfferService entry referencing one endpoint option, matching
// the scenario in spec section 8 byte-for-byte.
func BuildSDOffer(serviceID, instanceID uint16, majorVersion uint8, minorVersion uint32, ip string, port uint16, proto Protocol, sessionID uint16, ttlSeconds uint32) []byte {
	addr := parseIPOptionAddr(ip)
	optType := OptionIPv4Endpoint
	if addr.To4() == nil {
		optType = OptionIPv6Endpoint
	}

	entry := Entry{
		Type:         EntryOfferService,
		Index1st:     0,
		NumOpts1st:   1,
		ServiceID:    serviceID,
		InstanceID:   instanceID,
		MajorVersion: majorVersion,
		TTL:          ttlSeconds,
		MinorVersion: minorVersion,
	}
	opt := Option{Type: optType, Addr: addr, Protocol: proto, Port: port}

	sdPayload := SerializeSDMessage(Message{
		Reboot:  true,
		Entries: []Entry{entry},
		Options: []Option{opt},
	})

	h := Header{
		ServiceID:        SDServiceIDValue,
		MethodID:         SDMethodIDValue,
		ClientID:         0,
		SessionID:        sessionID,
		ProtocolVersion:  ProtocolVersion,
		InterfaceVersion: 0x01,
		MessageType:      MsgNotification,
		ReturnCode:       RCOk,
	}
	return BuildMessage(h, sdPayload)
}
