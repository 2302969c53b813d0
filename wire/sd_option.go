package wire

import (
	"net"

	"someipd/rterr"
)

// OptionType identifies the kind of SD option, per spec section 4.3.
type OptionType uint8

const (
	OptionIPv4Endpoint  OptionType = 0x04
	OptionIPv6Endpoint  OptionType = 0x06
	OptionIPv4Multicast OptionType = 0x14
	OptionIPv6Multicast OptionType = 0x16
)

// Protocol identifies the transport carried by an endpoint/multicast option.
type Protocol uint8

const (
	ProtoUDP Protocol = 0x11
	ProtoTCP Protocol = 0x06
)

// Spec-correct Length field values (excludes the option's own Type byte).
// Builders always emit these; DeserializeOption additionally accepts the
// "historically miscounted" values one higher (0x0A/0x16) for compatibility.
const (
	ipv4OptionLength = 0x09
	ipv6OptionLength = 0x15
)

// Option is a decoded IPv4/IPv6 Endpoint or Multicast option.
type Option struct {
	Type     OptionType
	Addr     net.IP
	Protocol Protocol
	Port     uint16
}

// SerializeOption emits the spec-correct wire form of o: a 2-byte Length, the
// 1-byte Type, then the address/protocol/port payload. Length always carries
// the spec-correct value (0x09/0x15), never the legacy off-by-one.
func SerializeOption(o Option) []byte {
	switch o.Type {
	case OptionIPv4Endpoint, OptionIPv4Multicast:
		buf := make([]byte, 2+1+ipv4OptionLength)
		copy(buf[0:2], SerializeU16(ipv4OptionLength))
		buf[2] = byte(o.Type)
		// buf[3] reserved
		copy(buf[4:8], o.Addr.To4())
		// buf[8] reserved
		buf[9] = byte(o.Protocol)
		copy(buf[10:12], SerializeU16(o.Port))
		return buf
	case OptionIPv6Endpoint, OptionIPv6Multicast:
		buf := make([]byte, 2+1+ipv6OptionLength)
		copy(buf[0:2], SerializeU16(ipv6OptionLength))
		buf[2] = byte(o.Type)
		// buf[3] reserved
		copy(buf[4:20], o.Addr.To16())
		// buf[20] reserved
		buf[21] = byte(o.Protocol)
		copy(buf[22:24], SerializeU16(o.Port))
		return buf
	default:
		return nil
	}
}

// DeserializeOption parses one option starting at data[0]. The Length field
// is validated against both the spec-correct and the legacy off-by-one value
// for the option's type, but the byte stride consumed is always the fixed
// wire size of that type (12 for IPv4, 24 for IPv6): the two accepted Length
// values describe the same bytes, they just disagree on whether the Type
// byte is included in the count.
func DeserializeOption(data []byte) (Option, int, error) {
	if len(data) < 3 {
		return Option{}, 0, rterr.New(rterr.KindMalformedSDPacket, "option header truncated")
	}
	length := int(SerializeU16ToUint(data[0:2]))
	optType := OptionType(data[2])

	switch optType {
	case OptionIPv4Endpoint, OptionIPv4Multicast:
		if length != ipv4OptionLength && length != ipv4OptionLength+1 {
			return Option{}, 0, rterr.New(rterr.KindMalformedSDPacket, "bad IPv4 option length")
		}
		const consumed = 3 + 9
		if consumed > len(data) {
			return Option{}, 0, rterr.New(rterr.KindMalformedSDPacket, "IPv4 option payload exceeds buffer")
		}
		payload := data[3:consumed]
		ip := make(net.IP, 4)
		copy(ip, payload[1:5])
		return Option{
			Type:     optType,
			Addr:     ip,
			Protocol: Protocol(payload[6]),
			Port:     SerializeU16ToUint(payload[7:9]),
		}, consumed, nil
	case OptionIPv6Endpoint, OptionIPv6Multicast:
		if length != ipv6OptionLength && length != ipv6OptionLength+1 {
			return Option{}, 0, rterr.New(rterr.KindMalformedSDPacket, "bad IPv6 option length")
		}
		const consumed = 3 + 21
		if consumed > len(data) {
			return Option{}, 0, rterr.New(rterr.KindMalformedSDPacket, "IPv6 option payload exceeds buffer")
		}
		payload := data[3:consumed]
		ip := make(net.IP, 16)
		copy(ip, payload[1:17])
		return Option{
			Type:     optType,
			Addr:     ip,
			Protocol: Protocol(payload[18]),
			Port:     SerializeU16ToUint(payload[19:21]),
		}, consumed, nil
	default:
		consumed := 3 + length
		if consumed > len(data) {
			return Option{}, 0, rterr.New(rterr.KindMalformedSDPacket, "option payload exceeds buffer")
		}
		return Option{Type: optType}, consumed, nil
	}
}

// SerializeU16ToUint is a tiny local alias so this file reads naturally when
// decoding raw big-endian halfwords embedded in option headers.
func SerializeU16ToUint(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
