package vita

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn is an in-memory stand-in for the UDP socket. Incoming datagrams
// are fed through a channel, outgoing ones are collected for inspection.
type memConn struct {
	incoming chan []byte
	closed   chan struct{}

	mu   sync.Mutex
	sent [][]byte
}

func newMemConn() *memConn {
	return &memConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *memConn) Read(buf []byte) (int, error) {
	select {
	case datagram := <-c.incoming:
		return copy(buf, datagram), nil
	case <-c.closed:
		return 0, io.EOF
	}
}

func (c *memConn) Write(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	datagram := make([]byte, len(buf))
	copy(datagram, buf)
	c.sent = append(c.sent, datagram)
	return len(buf), nil
}

func (c *memConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *memConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: 54321}
}

func (c *memConn) sentPackets(t *testing.T) []*Packet {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]*Packet, len(c.sent))
	for i, wire := range c.sent {
		packet, err := Decode(wire)
		require.NoError(t, err)
		result[i] = packet
	}
	return result
}

type delivery struct {
	category Category
	packet   *Packet
}

func startTestEngine(t *testing.T) (*Engine, *memConn, chan delivery) {
	t.Helper()
	conn := newMemConn()
	delivered := make(chan delivery, 16)
	engine := NewEngine(conn, func(category Category, packet *Packet) {
		delivered <- delivery{category, packet}
	})
	engine.Start()
	t.Cleanup(engine.Stop)
	return engine, conn, delivered
}

func awaitDelivery(t *testing.T, delivered chan delivery) delivery {
	t.Helper()
	select {
	case d := <-delivered:
		return d
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
		return delivery{}
	}
}

func TestRouteAudioByDirection(t *testing.T) {
	_, conn, delivered := startTestEngine(t)

	rx := newDataPacket(SpeakerStreamID, AudioClass, 0, encodeSamples([]float32{1, 2}), time.Now())
	wire, err := rx.Encode()
	require.NoError(t, err)
	conn.incoming <- wire

	d := awaitDelivery(t, delivered)
	assert.Equal(t, CategoryRxData, d.category)
	assert.Equal(t, []float32{1, 2}, d.packet.Samples())

	tx := newDataPacket(TransmitterStreamID, AudioClass, 0, encodeSamples([]float32{3, 4}), time.Now())
	wire, err = tx.Encode()
	require.NoError(t, err)
	conn.incoming <- wire

	d = awaitDelivery(t, delivered)
	assert.Equal(t, CategoryTxData, d.category)
}

func TestRouteByteData(t *testing.T) {
	_, conn, delivered := startTestEngine(t)

	packet := newDataPacket(SpeakerStreamID, ByteDataClass, 0, encodeByteData([]byte("abc")), time.Now())
	wire, err := packet.Encode()
	require.NoError(t, err)
	conn.incoming <- wire

	d := awaitDelivery(t, delivered)
	assert.Equal(t, CategoryByteData, d.category)
	assert.Equal(t, []byte("abc"), d.packet.ByteData())
}

func TestRouteUnknownClass(t *testing.T) {
	_, conn, delivered := startTestEngine(t)

	packet := newDataPacket(0x12345678, 0x0001, 0, []byte{1, 2, 3, 4}, time.Now())
	wire, err := packet.Encode()
	require.NoError(t, err)
	conn.incoming <- wire

	d := awaitDelivery(t, delivered)
	assert.Equal(t, CategoryUnknownData, d.category)
}

func TestFirstAudioPacketPinsStreamID(t *testing.T) {
	_, conn, delivered := startTestEngine(t)

	first := newDataPacket(0x40000010, AudioClass, 0, encodeSamples([]float32{1}), time.Now())
	wire, err := first.Encode()
	require.NoError(t, err)
	conn.incoming <- wire
	awaitDelivery(t, delivered)

	stranger := newDataPacket(0x40000020, AudioClass, 1, encodeSamples([]float32{2}), time.Now())
	wire, err = stranger.Encode()
	require.NoError(t, err)
	conn.incoming <- wire

	again := newDataPacket(0x40000010, AudioClass, 2, encodeSamples([]float32{3}), time.Now())
	wire, err = again.Encode()
	require.NoError(t, err)
	conn.incoming <- wire

	d := awaitDelivery(t, delivered)
	assert.Equal(t, uint8(2), d.packet.Sequence, "the packet with the foreign stream id must be dropped")
}

func TestMalformedDatagramIsDropped(t *testing.T) {
	_, conn, delivered := startTestEngine(t)

	conn.incoming <- []byte{0xDE, 0xAD}

	valid := newDataPacket(SpeakerStreamID, AudioClass, 5, encodeSamples([]float32{1}), time.Now())
	wire, err := valid.Encode()
	require.NoError(t, err)
	conn.incoming <- wire

	d := awaitDelivery(t, delivered)
	assert.Equal(t, uint8(5), d.packet.Sequence)
}

func TestSendSamplesUsesPinnedStreamID(t *testing.T) {
	engine, conn, delivered := startTestEngine(t)

	incoming := newDataPacket(0x40000042, AudioClass, 0, encodeSamples([]float32{1}), time.Now())
	wire, err := incoming.Encode()
	require.NoError(t, err)
	conn.incoming <- wire
	awaitDelivery(t, delivered)

	require.NoError(t, engine.SendSamples(SpeakerData, []float32{0.5, -0.5}))

	sent := conn.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x40000042), sent[0].StreamID)
	assert.Equal(t, AudioClass, sent[0].PacketClass)
	assert.Equal(t, []float32{0.5, -0.5}, sent[0].Samples())
}

func TestSendSamplesSequenceWrapsAtSixteen(t *testing.T) {
	engine, conn, _ := startTestEngine(t)

	for i := 0; i < 18; i++ {
		require.NoError(t, engine.SendSamples(TransmitterData, []float32{1}))
	}

	sent := conn.sentPackets(t)
	require.Len(t, sent, 18)
	assert.Equal(t, uint8(15), sent[15].Sequence)
	assert.Equal(t, uint8(0), sent[16].Sequence)
	assert.Equal(t, uint8(1), sent[17].Sequence)
	for _, packet := range sent {
		assert.Equal(t, TransmitterStreamID, packet.StreamID)
	}
}

func TestSendSamplesRejectsOversizedPayload(t *testing.T) {
	engine, conn, _ := startTestEngine(t)

	err := engine.SendSamples(SpeakerData, make([]float32, MaxPayloadBytes/4+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	err = engine.SendByteData(make([]byte, MaxPayloadBytes))
	assert.ErrorIs(t, err, ErrPayloadTooLarge, "the length prefix pushes a full-capacity blob over the limit")
	assert.Empty(t, conn.sentPackets(t), "nothing may reach the socket")
}

func TestSendMeters(t *testing.T) {
	engine, conn, _ := startTestEngine(t)

	require.NoError(t, engine.SendMeters([]MeterReading{
		{ID: 1, Value: 0x1234},
		{ID: 2, Value: 0x5678},
	}))

	sent := conn.sentPackets(t)
	require.Len(t, sent, 1)
	assert.Equal(t, MeterStreamID, sent[0].StreamID)
	assert.Equal(t, MeterClass, sent[0].PacketClass)
	assert.Equal(t, []byte{0x00, 0x01, 0x12, 0x34, 0x00, 0x02, 0x56, 0x78}, sent[0].Payload)
}

func TestStopTwice(t *testing.T) {
	conn := newMemConn()
	engine := NewEngine(conn, func(Category, *Packet) {})
	engine.Start()

	engine.Stop()
	assert.NotPanics(t, engine.Stop)
}

func TestLocalPort(t *testing.T) {
	engine := NewEngine(newMemConn(), func(Category, *Packet) {})
	assert.Equal(t, 54321, engine.LocalPort())
}
