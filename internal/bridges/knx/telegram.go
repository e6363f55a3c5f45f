package knx

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nerrad567/aimx-core/internal/records"
)

// knxd protocol message types.
const (
	// EIBOpenGroupCon opens a group socket for bidirectional group
	// communication. Payload: reserved(1) + write_only(1) + reserved(1),
	// all zero for read/write mode. knxd confirms with the same type.
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries a group telegram in either direction on an
	// open group socket.
	EIBGroupPacket uint16 = 0x0027

	// EIBClose closes the knxd connection gracefully.
	EIBClose uint16 = 0x0006
)

// APCI (Application Protocol Control Information) codes, already shifted
// into the upper two bits of the APCI byte.
const (
	// APCIRead asks the device listening on a group address for its
	// current value.
	APCIRead byte = 0x00

	// APCIResponse answers a group read.
	APCIResponse byte = 0x40

	// APCIWrite sends a value to every device listening on a group
	// address.
	APCIWrite byte = 0x80
)

const (
	// knxdHeaderSize is the size of the knxd message header (size + type).
	knxdHeaderSize = 4

	// groupPacketMin is the minimum payload of a received group packet:
	// source(2) + destination(2) + TPCI(1) + APCI(1).
	groupPacketMin = 6

	// maxShortValue is the largest value that rides in the low six bits
	// of the APCI byte instead of a trailing data byte.
	maxShortValue = 0x3F
)

// Telegram is a single KNX group telegram.
type Telegram struct {
	// Source is the sender's individual address (e.g. "1.1.5").
	// Populated for received telegrams only; empty for outgoing.
	Source string

	// Destination is the target group address.
	Destination records.Address

	// APCI is the telegram type (read, response, or write).
	APCI byte

	// Data is the DPT-encoded payload. Nil for read requests.
	Data []byte

	// Timestamp is when the telegram was received or created.
	Timestamp time.Time
}

// ParseTelegram parses the payload of an EIBGroupPacket received on a
// group socket:
//
//	Byte 0-1: source individual address (big-endian)
//	Byte 2-3: destination group address (big-endian)
//	Byte 4:   TPCI (0x00 for group communication)
//	Byte 5:   APCI in the upper 2 bits; short values in the lower 6
//	Byte 6+:  data bytes for long frames
//
// The receive format carries a source address the send format does not;
// that asymmetry is knxd's, not ours. Payloads shorter than six bytes
// cannot hold an APCI and are rejected with ErrUnexpectedFrame.
func ParseTelegram(payload []byte) (Telegram, error) {
	if len(payload) < groupPacketMin {
		return Telegram{}, fmt.Errorf("%w: group packet too short (%d bytes, need %d)",
			ErrUnexpectedFrame, len(payload), groupPacketMin)
	}

	src := formatIndividualAddress(binary.BigEndian.Uint16(payload[0:2]))
	dest := records.AddressFromUint16(binary.BigEndian.Uint16(payload[2:4]))
	apci := payload[5] & 0xC0

	var data []byte
	switch {
	case len(payload) > groupPacketMin:
		// Long frame: value bytes follow the header.
		data = make([]byte, len(payload)-groupPacketMin)
		copy(data, payload[groupPacketMin:])
	case apci == APCIWrite || apci == APCIResponse:
		// Short frame: the value rides the low six bits of the APCI byte.
		data = []byte{payload[5] & maxShortValue}
	}
	// Read requests carry no data.

	return Telegram{
		Source:      src,
		Destination: dest,
		APCI:        apci,
		Data:        data,
		Timestamp:   time.Now(),
	}, nil
}

// formatIndividualAddress renders a 16-bit individual address as
// "area.line.device". Individual addresses identify physical devices on
// the bus.
func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}

// Encode renders the telegram as an EIBGroupPacket payload for sending
// on a group socket:
//
//	Byte 0-1: destination group address (big-endian)
//	Byte 2:   TPCI (0x00)
//	Byte 3:   APCI, with single-byte values ≤ 0x3F folded into its low bits
//	Byte 4+:  data bytes for long frames
//
// Reads encode as four bytes with no data. The source address is added
// by knxd.
func (t Telegram) Encode() []byte {
	short := len(t.Data) == 1 && t.Data[0] <= maxShortValue

	if len(t.Data) == 0 || short {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
		buf[2] = 0x00
		buf[3] = t.APCI
		if short {
			buf[3] |= t.Data[0] & maxShortValue
		}
		return buf
	}

	buf := make([]byte, 4+len(t.Data))
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[2] = 0x00
	buf[3] = t.APCI
	copy(buf[4:], t.Data)
	return buf
}

// IsWrite reports whether this is a group write telegram.
func (t Telegram) IsWrite() bool {
	return t.APCI == APCIWrite
}

// IsRead reports whether this is a group read request.
func (t Telegram) IsRead() bool {
	return t.APCI == APCIRead
}

// IsResponse reports whether this is a group read response.
func (t Telegram) IsResponse() bool {
	return t.APCI == APCIResponse
}

// String returns a human-readable form for logs.
func (t Telegram) String() string {
	apci := "UNKNOWN"
	switch t.APCI {
	case APCIRead:
		apci = "READ"
	case APCIResponse:
		apci = "RESPONSE"
	case APCIWrite:
		apci = "WRITE"
	}
	return fmt.Sprintf("Telegram{GA:%s, APCI:%s, Data:%X}", t.Destination, apci, t.Data)
}

// NewWriteTelegram builds a group write carrying DPT-encoded data.
func NewWriteTelegram(dest records.Address, data []byte) Telegram {
	return Telegram{
		Destination: dest,
		APCI:        APCIWrite,
		Data:        data,
		Timestamp:   time.Now(),
	}
}

// NewReadTelegram builds a group read request.
func NewReadTelegram(dest records.Address) Telegram {
	return Telegram{
		Destination: dest,
		APCI:        APCIRead,
		Timestamp:   time.Now(),
	}
}

// EncodeKNXDMessage wraps a payload in knxd message framing:
//
//	Byte 0-1: size (big-endian) = type(2) + payload, excluding the size
//	          field itself
//	Byte 2-3: message type (big-endian)
//	Byte 4+:  payload
func EncodeKNXDMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload)))
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[knxdHeaderSize:], payload)
	return buf
}

// ParseKNXDMessage splits a complete knxd message (size field included)
// into its type and payload, validating the declared size against the
// bytes actually present.
func ParseKNXDMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrUnexpectedFrame, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, have %d)",
			ErrUnexpectedFrame, declared, len(data)-2)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return msgType, payload, nil
}
