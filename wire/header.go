// Package wire implements the SOME/IP wire codec (spec section 4.1): the
// 16-byte SOME/IP header, primitive serialization rules, and the SOME/IP-SD
// entry/option layer (spec section 4.3), all in AUTOSAR R22-11 big-endian form.
package wire

import (
	"encoding/binary"

	"someipd/rterr"
)

// HeaderSize is the fixed, 16-byte length of every SOME/IP header.
const HeaderSize = 16

// ProtocolVersion is the only SOME/IP protocol version this codec emits/accepts.
const ProtocolVersion = 0x01

// MessageType identifies the SOME/IP message kind, including the TP variants
// (bit 0x20 set) per spec section 4.1.
type MessageType uint8

const (
	MsgRequest             MessageType = 0x00
	MsgRequestNoReturn     MessageType = 0x01
	MsgNotification        MessageType = 0x02
	MsgRequestTP           MessageType = 0x20
	MsgRequestNoReturnTP   MessageType = 0x21
	MsgNotificationTP      MessageType = 0x22
	MsgResponse            MessageType = 0x80
	MsgError               MessageType = 0x81
	MsgResponseTP          MessageType = 0xA0
	MsgErrorTP             MessageType = 0xA1
)

// tpFlag is the bit that marks a message type as TP-segmented.
const tpFlag = 0x20

// IsTP reports whether the message type carries the TP segmentation flag.
func (m MessageType) IsTP() bool { return m&tpFlag != 0 }

// WithTP returns m with the TP flag set.
func (m MessageType) WithTP() MessageType { return m | tpFlag }

// WithoutTP returns m with the TP flag cleared.
func (m MessageType) WithoutTP() MessageType { return m &^ tpFlag }

// ReturnCode is the SOME/IP response status code.
type ReturnCode uint8

const (
	RCOk                   ReturnCode = 0x00
	RCNotOk                ReturnCode = 0x01
	RCUnknownService       ReturnCode = 0x02
	RCUnknownMethod        ReturnCode = 0x03
	RCNotReady             ReturnCode = 0x04
	RCNotReachable         ReturnCode = 0x05
	RCTimeout              ReturnCode = 0x06
	RCWrongProtocolVersion ReturnCode = 0x07
	RCWrongInterfaceVersion ReturnCode = 0x08
	RCMalformedMessage     ReturnCode = 0x09
	RCWrongMessageType     ReturnCode = 0x0A
	RCE2ERepeated          ReturnCode = 0x0B
	RCE2EWrongSequence     ReturnCode = 0x0C
	RCE2E                  ReturnCode = 0x0D
	RCE2ENotAvailable      ReturnCode = 0x0E
)

// Service/Method ids reserved for SOME/IP-SD traffic, per spec section 4.3.
const (
	SDServiceIDValue uint16 = 0xFFFF
	SDMethodIDValue  uint16 = 0x8100
)

// Header is the 16-byte SOME/IP message header.
type Header struct {
	ServiceID         uint16
	MethodID          uint16
	Length            uint32 // payload length + 8 (ClientId..ReturnCode)
	ClientID          uint16
	SessionID         uint16
	ProtocolVersion   uint8
	InterfaceVersion  uint8
	MessageType       MessageType
	ReturnCode        ReturnCode
}

// PayloadLength returns the number of payload bytes implied by Length
// (Length counts the 8 bytes from ClientID through ReturnCode plus payload).
func (h Header) PayloadLength() uint32 {
	if h.Length < 8 {
		return 0
	}
	return h.Length - 8
}

// SerializeHeader writes h as 16 big-endian bytes.
func SerializeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.ServiceID)
	binary.BigEndian.PutUint16(buf[2:4], h.MethodID)
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	binary.BigEndian.PutUint16(buf[8:10], h.ClientID)
	binary.BigEndian.PutUint16(buf[10:12], h.SessionID)
	buf[12] = h.ProtocolVersion
	buf[13] = h.InterfaceVersion
	buf[14] = byte(h.MessageType)
	buf[15] = byte(h.ReturnCode)
	return buf
}

// DeserializeHeader parses the first 16 bytes of data as a Header. Fewer than
// 16 bytes is a MalformedHeader error; no payload-length validation is
// performed here, matching spec section 4.1 ("caller decides").
func DeserializeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, rterr.New(rterr.KindMalformedHeader, "header requires 16 bytes")
	}
	return Header{
		ServiceID:        binary.BigEndian.Uint16(data[0:2]),
		MethodID:         binary.BigEndian.Uint16(data[2:4]),
		Length:           binary.BigEndian.Uint32(data[4:8]),
		ClientID:         binary.BigEndian.Uint16(data[8:10]),
		SessionID:        binary.BigEndian.Uint16(data[10:12]),
		ProtocolVersion:  data[12],
		InterfaceVersion: data[13],
		MessageType:      MessageType(data[14]),
		ReturnCode:       ReturnCode(data[15]),
	}, nil
}

// BuildMessage serializes a header with its Length field derived from the
// payload and appends the payload, producing a complete wire frame.
func BuildMessage(h Header, payload []byte) []byte {
	h.Length = uint32(8 + len(payload))
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, SerializeHeader(h)...)
	out = append(out, payload...)
	return out
}

// SplitMessage parses a full wire frame into its header and payload slice
// (the payload shares the backing array; callers that retain it past the
// next read should copy it).
func SplitMessage(data []byte) (Header, []byte, error) {
	h, err := DeserializeHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	end := HeaderSize + int(h.PayloadLength())
	if end > len(data) {
		return Header{}, nil, rterr.New(rterr.KindMalformedHeader, "declared length exceeds buffer")
	}
	return h, data[HeaderSize:end], nil
}
