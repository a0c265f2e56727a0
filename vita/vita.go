// Package vita implements the VITA-49-style packet format the radio uses on
// its UDP data plane, and the engine that moves those packets between the
// radio and a waveform's callbacks.
package vita

import (
	"encoding/binary"
	"math"
)

// PacketType is the 4-bit packet type field of the header word.
type PacketType uint8

// All packet types used by this protocol variant.
const (
	IFData            PacketType = 0x0
	IFDataWithStream  PacketType = 0x1
	ExtData           PacketType = 0x2
	ExtDataWithStream PacketType = 0x3
	Context           PacketType = 0x4
	Command           PacketType = 0x6
)

// IntegerTimestampType is the 2-bit TSI field.
type IntegerTimestampType uint8

// All integer timestamp types.
const (
	IntNone IntegerTimestampType = iota
	IntUTC
	IntGPS
	IntOther
)

// FractionalTimestampType is the 2-bit TSF field.
type FractionalTimestampType uint8

// All fractional timestamp types.
const (
	FracNone FractionalTimestampType = iota
	FracSampleCount
	FracFreeRunning
	FracRealTime
)

// Vendor constants for the class identification fields.
const (
	FlexOUI          uint32 = 0x00001C2D
	InformationClass uint16 = 0x534C
)

// Bit layout of the 16-bit packet class field. The sample rate is carried
// directly in kHz in its 5-bit field.
const (
	classBitsPerSampleMask uint16 = 0x0003
	classSampleRateShift          = 2
	classSampleRateMask    uint16 = 0x007C
	classFloat             uint16 = 0x0080
	classAudio             uint16 = 0x0100
	classTwoFrames         uint16 = 0x0200
)

// Bits-per-sample enum values of the packet class field.
const (
	bits8 uint16 = iota
	bits16
	bits24
	bits32
)

// Well-known packet classes.
const (
	// AudioClass tags baseband audio: floating point, 32 bits per sample,
	// 24 kHz, two frames (L/R or I/Q) per sample.
	AudioClass uint16 = classAudio | classFloat | classTwoFrames | 24<<classSampleRateShift | bits32
	// ByteDataClass tags the raw byte stream: 8-bit integer data at 3 kHz,
	// one frame per sample.
	ByteDataClass uint16 = classAudio | 3<<classSampleRateShift | bits8
	// MeterClass tags meter readings.
	MeterClass uint16 = 0x8002
	// DiscoveryClass tags the discovery broadcast.
	DiscoveryClass uint16 = 0xFFFF
)

// Well-known stream IDs. The least significant bit of a stream ID encodes
// the direction: 1 for transmit, 0 for receive.
const (
	SpeakerStreamID     uint32 = 0x40000000
	TransmitterStreamID uint32 = 0x40000001
	MeterStreamID       uint32 = 0x88000000
	DiscoveryStreamID   uint32 = 0x00000800
)

// MaxPayloadBytes is the fixed payload capacity of a packet. Larger payloads
// are rejected, not fragmented.
const MaxPayloadBytes = 1440

// Kind is the payload classification derived from the packet class bits.
type Kind int

// All packet kinds.
const (
	KindUnknown Kind = iota
	KindAudio
	KindByteStream
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindByteStream:
		return "byte-stream"
	default:
		return "unknown"
	}
}

// Packet is a decoded data-plane packet. All multi-byte fields are in host
// order; the codec takes care of the wire representation.
type Packet struct {
	Type              PacketType
	ClassPresent      bool
	TrailerPresent    bool
	IntTimestampType  IntegerTimestampType
	FracTimestampType FractionalTimestampType
	Sequence          uint8 // 4-bit rolling counter
	StreamID          uint32
	OUI               uint32
	InfoClass         uint16
	PacketClass       uint16
	IntTimestamp      uint32
	FracTimestamp     uint64
	Trailer           uint32
	Payload           []byte
}

// Kind classifies the packet from its class bits.
func (p *Packet) Kind() Kind {
	if !p.ClassPresent {
		return KindUnknown
	}
	rate := (p.PacketClass & classSampleRateMask) >> classSampleRateShift
	bits := p.PacketClass & classBitsPerSampleMask
	isAudio := p.PacketClass&classAudio != 0
	isFloat := p.PacketClass&classFloat != 0
	twoFrames := p.PacketClass&classTwoFrames != 0

	switch {
	case isAudio && isFloat && bits == bits32 && rate == 24 && twoFrames:
		return KindAudio
	case isAudio && !isFloat && bits == bits8 && rate == 3 && !twoFrames:
		return KindByteStream
	default:
		return KindUnknown
	}
}

// IsTransmit reports the stream direction encoded in the stream ID.
func (p *Packet) IsTransmit() bool {
	return p.StreamID&1 == 1
}

// SampleCount returns the number of 32-bit samples in the payload.
func (p *Packet) SampleCount() int {
	return len(p.Payload) / 4
}

// Samples interprets the payload as 32-bit float samples.
func (p *Packet) Samples() []float32 {
	samples := make([]float32, 0, len(p.Payload)/4)
	for i := 0; i+4 <= len(p.Payload); i += 4 {
		bits := binary.BigEndian.Uint32(p.Payload[i:])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// ByteData interprets the payload as a length-prefixed byte blob and returns
// the bytes. It returns nil if the length prefix is inconsistent with the
// payload size.
func (p *Packet) ByteData() []byte {
	if len(p.Payload) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(p.Payload)
	if int(n) > len(p.Payload)-4 {
		return nil
	}
	return p.Payload[4 : 4+n]
}

// Clone returns an independently-owned copy of the packet.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.Payload = make([]byte, len(p.Payload))
	copy(clone.Payload, p.Payload)
	return &clone
}

func (p *Packet) hasStreamID() bool {
	return p.Type != IFData && p.Type != ExtData
}

// headerBytes is the wire size of the header for this packet's flags,
// excluding the trailer.
func (p *Packet) headerBytes() int {
	words := 1
	if p.hasStreamID() {
		words++
	}
	if p.ClassPresent {
		words += 2
	}
	if p.IntTimestampType != IntNone {
		words++
	}
	if p.FracTimestampType != FracNone {
		words += 2
	}
	return words * 4
}
