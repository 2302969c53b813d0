package wire

import "someipd/rterr"

// EntryType identifies the kind of SD entry, per spec section 4.3. StopOffer
// and StopSubscribe reuse OfferService/SubscribeEventgroup with TTL = 0;
// there is no separate wire type for them.
type EntryType uint8

const (
	EntryFindService           EntryType = 0x00
	EntryOfferService          EntryType = 0x01
	EntrySubscribeEventgroup   EntryType = 0x06
	EntrySubscribeEventgroupAck EntryType = 0x07
)

// EntrySize is the fixed 16-byte length of every SD entry.
const EntrySize = 16

// Entry is a decoded SD entry. MinorVersion and EventgroupId share the same
// wire bytes: EventgroupId is populated (and MinorVersion left zero) only
// for SubscribeEventgroup/SubscribeEventgroupAck entries.
type Entry struct {
	Type         EntryType
	Index1st     uint8
	Index2nd     uint8
	NumOpts1st   uint8 // high nibble of NumOpts
	NumOpts2nd   uint8 // low nibble of NumOpts
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	TTL          uint32 // 24-bit, big-endian
	MinorVersion uint32
	EventgroupID uint16
}

// IsEventgroupEntry reports whether e is a Subscribe/SubscribeAck entry,
// whose last four bytes carry an EventgroupId rather than a MinorVersion.
func (e Entry) IsEventgroupEntry() bool {
	return e.Type == EntrySubscribeEventgroup || e.Type == EntrySubscribeEventgroupAck
}

// IsStop reports whether the entry represents a StopOffer/StopSubscribe
// (TTL = 0 on an Offer or Subscribe entry).
func (e Entry) IsStop() bool { return e.TTL == 0 }

// SerializeEntry writes e as 16 big-endian bytes.
func SerializeEntry(e Entry) []byte {
	buf := make([]byte, EntrySize)
	buf[0] = byte(e.Type)
	buf[1] = e.Index1st
	buf[2] = e.Index2nd
	buf[3] = (e.NumOpts1st << 4) | (e.NumOpts2nd & 0x0F)
	copy(buf[4:6], SerializeU16(e.ServiceID))
	copy(buf[6:8], SerializeU16(e.InstanceID))
	buf[8] = e.MajorVersion
	buf[9] = byte(e.TTL >> 16)
	buf[10] = byte(e.TTL >> 8)
	buf[11] = byte(e.TTL)
	if e.IsEventgroupEntry() {
		// 12 bits reserved, 16 bits EventgroupId, 4 bits reserved/counter.
		copy(buf[12:16], SerializeU32(uint32(e.EventgroupID)<<4))
	} else {
		copy(buf[12:16], SerializeU32(e.MinorVersion))
	}
	return buf
}

// DeserializeEntry parses a 16-byte SD entry.
func DeserializeEntry(data []byte) (Entry, error) {
	if len(data) < EntrySize {
		return Entry{}, rterr.New(rterr.KindMalformedSDPacket, "entry requires 16 bytes")
	}
	e := Entry{
		Type:         EntryType(data[0]),
		Index1st:     data[1],
		Index2nd:     data[2],
		NumOpts1st:   data[3] >> 4,
		NumOpts2nd:   data[3] & 0x0F,
		ServiceID:    SerializeU16ToUint(data[4:6]),
		InstanceID:   SerializeU16ToUint(data[6:8]),
		MajorVersion: data[8],
		TTL:          uint32(data[9])<<16 | uint32(data[10])<<8 | uint32(data[11]),
	}
	if e.IsEventgroupEntry() {
		e.EventgroupID = uint16(SerializeU32ToUint(data[12:16]) >> 4)
	} else {
		e.MinorVersion = SerializeU32ToUint(data[12:16])
	}
	return e, nil
}

// SerializeU32ToUint decodes a raw big-endian word embedded in an entry or
// SD header, mirroring SerializeU16ToUint.
func SerializeU32ToUint(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
