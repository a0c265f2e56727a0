package vita

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformed marks a packet that failed wire validation. Such packets are
// logged and dropped; they never reach a callback.
var ErrMalformed = errors.New("malformed vita packet")

// ErrPayloadTooLarge marks a payload exceeding MaxPayloadBytes.
var ErrPayloadTooLarge = errors.New("payload exceeds packet capacity")

// ErrShortWrite marks an incomplete network write.
var ErrShortWrite = errors.New("short write to data socket")

// Decode parses a received datagram into a packet. It validates the length
// invariant (received bytes must equal the length field times four), the
// vendor OUI, and the information class.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: %d bytes is too short for a header", ErrMalformed, len(buf))
	}

	header := binary.BigEndian.Uint32(buf)
	p := &Packet{
		Type:              PacketType(header >> 28),
		ClassPresent:      header&(1<<27) != 0,
		TrailerPresent:    header&(1<<26) != 0,
		IntTimestampType:  IntegerTimestampType(header >> 22 & 0x3),
		FracTimestampType: FractionalTimestampType(header >> 20 & 0x3),
		Sequence:          uint8(header >> 16 & 0xF),
	}

	length := int(header & 0xFFFF)
	if len(buf) != length*4 {
		return nil, fmt.Errorf("%w: length field %d words does not match %d received bytes", ErrMalformed, length, len(buf))
	}

	headerBytes := p.headerBytes()
	trailerBytes := 0
	if p.TrailerPresent {
		trailerBytes = 4
	}
	if len(buf) < headerBytes+trailerBytes {
		return nil, fmt.Errorf("%w: %d bytes cannot hold a %d byte header", ErrMalformed, len(buf), headerBytes+trailerBytes)
	}

	offset := 4
	if p.hasStreamID() {
		p.StreamID = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	if p.ClassPresent {
		p.OUI = binary.BigEndian.Uint32(buf[offset:]) & 0x00FFFFFF
		p.InfoClass = binary.BigEndian.Uint16(buf[offset+4:])
		p.PacketClass = binary.BigEndian.Uint16(buf[offset+6:])
		offset += 8
		if p.OUI != FlexOUI {
			return nil, fmt.Errorf("%w: unexpected OUI 0x%06X", ErrMalformed, p.OUI)
		}
		if p.InfoClass != InformationClass {
			return nil, fmt.Errorf("%w: unexpected information class 0x%04X", ErrMalformed, p.InfoClass)
		}
	}
	if p.IntTimestampType != IntNone {
		p.IntTimestamp = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	if p.FracTimestampType != FracNone {
		p.FracTimestamp = getUint64WordSwapped(buf[offset:])
		offset += 8
	}

	payloadEnd := len(buf) - trailerBytes
	if p.TrailerPresent {
		p.Trailer = binary.BigEndian.Uint32(buf[payloadEnd:])
	}
	p.Payload = make([]byte, payloadEnd-offset)
	copy(p.Payload, buf[offset:payloadEnd])

	return p, nil
}

// Encode serializes the packet to wire byte order. The payload is padded to
// a 32-bit word boundary; payloads beyond MaxPayloadBytes are rejected.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(p.Payload), MaxPayloadBytes)
	}

	payloadBytes := (len(p.Payload) + 3) &^ 3
	headerBytes := p.headerBytes()
	trailerBytes := 0
	if p.TrailerPresent {
		trailerBytes = 4
	}
	total := headerBytes + payloadBytes + trailerBytes

	buf := make([]byte, total)
	header := uint32(p.Type)<<28 |
		uint32(p.IntTimestampType&0x3)<<22 |
		uint32(p.FracTimestampType&0x3)<<20 |
		uint32(p.Sequence&0xF)<<16 |
		uint32(total/4)
	if p.ClassPresent {
		header |= 1 << 27
	}
	if p.TrailerPresent {
		header |= 1 << 26
	}
	binary.BigEndian.PutUint32(buf, header)

	offset := 4
	if p.hasStreamID() {
		binary.BigEndian.PutUint32(buf[offset:], p.StreamID)
		offset += 4
	}
	if p.ClassPresent {
		binary.BigEndian.PutUint32(buf[offset:], p.OUI&0x00FFFFFF)
		binary.BigEndian.PutUint16(buf[offset+4:], p.InfoClass)
		binary.BigEndian.PutUint16(buf[offset+6:], p.PacketClass)
		offset += 8
	}
	if p.IntTimestampType != IntNone {
		binary.BigEndian.PutUint32(buf[offset:], p.IntTimestamp)
		offset += 4
	}
	if p.FracTimestampType != FracNone {
		putUint64WordSwapped(buf[offset:], p.FracTimestamp)
		offset += 8
	}
	copy(buf[offset:], p.Payload)
	if p.TrailerPresent {
		binary.BigEndian.PutUint32(buf[total-4:], p.Trailer)
	}

	return buf, nil
}

// The radio carries the 64-bit fractional timestamp with its two 32-bit
// halves in swapped order: the low word travels first, each word big-endian.
func getUint64WordSwapped(buf []byte) uint64 {
	low := binary.BigEndian.Uint32(buf)
	high := binary.BigEndian.Uint32(buf[4:])
	return uint64(high)<<32 | uint64(low)
}

func putUint64WordSwapped(buf []byte, v uint64) {
	binary.BigEndian.PutUint32(buf, uint32(v))
	binary.BigEndian.PutUint32(buf[4:], uint32(v>>32))
}

// newDataPacket builds an outgoing timestamped data packet. The fractional
// timestamp carries nanoseconds scaled by 1000.
func newDataPacket(streamID uint32, packetClass uint16, sequence uint8, payload []byte, ts time.Time) *Packet {
	return &Packet{
		Type:              IFDataWithStream,
		ClassPresent:      true,
		IntTimestampType:  IntUTC,
		FracTimestampType: FracRealTime,
		Sequence:          sequence,
		StreamID:          streamID,
		OUI:               FlexOUI,
		InfoClass:         InformationClass,
		PacketClass:       packetClass,
		IntTimestamp:      uint32(ts.Unix()),
		FracTimestamp:     uint64(ts.Nanosecond()) * 1000,
		Payload:           payload,
	}
}

// newMeterPacket builds an outgoing meter packet. Meter packets carry no
// timestamps.
func newMeterPacket(sequence uint8, payload []byte) *Packet {
	return &Packet{
		Type:         ExtDataWithStream,
		ClassPresent: true,
		Sequence:     sequence,
		StreamID:     MeterStreamID,
		OUI:          FlexOUI,
		InfoClass:    InformationClass,
		PacketClass:  MeterClass,
		Payload:      payload,
	}
}

func encodeSamples(samples []float32) []byte {
	payload := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.BigEndian.PutUint32(payload[i*4:], math.Float32bits(s))
	}
	return payload
}

func encodeByteData(data []byte) []byte {
	payload := make([]byte, 4+((len(data)+3)&^3))
	binary.BigEndian.PutUint32(payload, uint32(len(data)))
	copy(payload[4:], data)
	return payload
}
