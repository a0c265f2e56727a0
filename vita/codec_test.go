package vita

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundtripDataPacket(t *testing.T) {
	samples := []float32{0.5, -0.5, 1.0, -1.0, 0.25, -0.25}
	original := newDataPacket(SpeakerStreamID, AudioClass, 7, encodeSamples(samples), time.Unix(1723456789, 123456000))

	wire, err := original.Encode()
	require.NoError(t, err)
	assert.Equal(t, 0, len(wire)%4)

	decoded, err := Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, IFDataWithStream, decoded.Type)
	assert.Equal(t, uint8(7), decoded.Sequence)
	assert.Equal(t, SpeakerStreamID, decoded.StreamID)
	assert.Equal(t, FlexOUI, decoded.OUI)
	assert.Equal(t, InformationClass, decoded.InfoClass)
	assert.Equal(t, AudioClass, decoded.PacketClass)
	assert.Equal(t, uint32(1723456789), decoded.IntTimestamp)
	assert.Equal(t, uint64(123456000)*1000, decoded.FracTimestamp)
	assert.Equal(t, samples, decoded.Samples())
}

func TestRoundtripMeterPacket(t *testing.T) {
	original := newMeterPacket(3, []byte{0x00, 0x01, 0x12, 0x34})

	wire, err := original.Encode()
	require.NoError(t, err)

	decoded, err := Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, ExtDataWithStream, decoded.Type)
	assert.Equal(t, MeterStreamID, decoded.StreamID)
	assert.Equal(t, MeterClass, decoded.PacketClass)
	assert.Equal(t, IntNone, decoded.IntTimestampType)
	assert.Equal(t, FracNone, decoded.FracTimestampType)
	assert.Equal(t, []byte{0x00, 0x01, 0x12, 0x34}, decoded.Payload)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	packet := newDataPacket(SpeakerStreamID, AudioClass, 0, encodeSamples([]float32{1, 2, 3, 4}), time.Now())
	wire, err := packet.Encode()
	require.NoError(t, err)

	for cut := 1; cut < len(wire); cut++ {
		_, err := Decode(wire[:len(wire)-cut])
		assert.ErrorIsf(t, err, ErrMalformed, "truncated by %d bytes", cut)
	}

	grown := append(append([]byte{}, wire...), 0, 0, 0, 0)
	_, err = Decode(grown)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsForeignClass(t *testing.T) {
	packet := newDataPacket(SpeakerStreamID, AudioClass, 0, encodeSamples([]float32{1}), time.Now())

	packet.OUI = 0x00ABCDEF
	wire, err := packet.Encode()
	require.NoError(t, err)
	_, err = Decode(wire)
	assert.ErrorIs(t, err, ErrMalformed)

	packet.OUI = FlexOUI
	packet.InfoClass = 0x1234
	wire, err = packet.Encode()
	require.NoError(t, err)
	_, err = Decode(wire)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	packet := newDataPacket(SpeakerStreamID, AudioClass, 0, make([]byte, MaxPayloadBytes+1), time.Now())
	_, err := packet.Encode()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncodePadsPayloadToWordBoundary(t *testing.T) {
	packet := newDataPacket(TransmitterStreamID, ByteDataClass, 0, []byte{1, 2, 3, 4, 5}, time.Now())
	wire, err := packet.Encode()
	require.NoError(t, err)
	assert.Equal(t, 0, len(wire)%4)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 0, 0, 0}, decoded.Payload)
}

func TestFractionalTimestampWordOrder(t *testing.T) {
	buf := make([]byte, 8)
	putUint64WordSwapped(buf, 0x1122334455667788)
	assert.Equal(t, []byte{0x55, 0x66, 0x77, 0x88, 0x11, 0x22, 0x33, 0x44}, buf)
	assert.Equal(t, uint64(0x1122334455667788), getUint64WordSwapped(buf))
}

func TestKindClassification(t *testing.T) {
	testCases := []struct {
		desc     string
		class    uint16
		expected Kind
	}{
		{"baseband audio", AudioClass, KindAudio},
		{"byte stream", ByteDataClass, KindByteStream},
		{"meters", MeterClass, KindUnknown},
		{"discovery", DiscoveryClass, KindUnknown},
		{"audio without float flag", AudioClass &^ classFloat, KindUnknown},
		{"audio at wrong rate", classAudio | classFloat | classTwoFrames | 48<<classSampleRateShift | bits32, KindUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			packet := &Packet{ClassPresent: true, PacketClass: tc.class}
			assert.Equal(t, tc.expected, packet.Kind())
		})
	}
}

func TestAudioClassValue(t *testing.T) {
	assert.Equal(t, uint16(0x03E3), AudioClass)
}

func TestByteDataLengthPrefix(t *testing.T) {
	packet := &Packet{Payload: encodeByteData([]byte("hello"))}
	assert.Equal(t, []byte("hello"), packet.ByteData())

	inconsistent := &Packet{Payload: []byte{0x00, 0x00, 0x00, 0x10, 1, 2}}
	assert.Nil(t, inconsistent.ByteData())
}

func TestCloneIsIndependent(t *testing.T) {
	original := &Packet{StreamID: SpeakerStreamID, Payload: []byte{1, 2, 3, 4}}
	clone := original.Clone()
	clone.Payload[0] = 99
	assert.Equal(t, byte(1), original.Payload[0])
}
