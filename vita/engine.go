package vita

import (
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftl/flexwave/rt"
)

var log = logrus.WithField("component", "vita")

// DataPort is the radio's UDP port for the data plane.
const DataPort = 4993

// receivePriority is the SCHED_FIFO priority of the receive loop.
const receivePriority = 10

// Conn is the datagram connection the engine runs on. A connected
// *net.UDPConn satisfies it, as does an in-memory test double.
type Conn interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
}

// Category names the callback category a received packet is routed to.
type Category int

// All routing categories.
const (
	CategoryRxData Category = iota
	CategoryTxData
	CategoryByteData
	CategoryUnknownData
)

// Destination selects where an outgoing sample packet goes.
type Destination int

// All destinations for outgoing sample data.
const (
	SpeakerData Destination = iota
	TransmitterData
)

// DeliverFunc receives every successfully decoded and routed packet. The
// packet is owned by the callee.
type DeliverFunc func(Category, *Packet)

// Engine owns one waveform's data-plane socket. It runs a realtime receive
// loop that decodes, classifies, and forwards packets, and it transmits
// outgoing sample, byte, and meter packets.
type Engine struct {
	conn    Conn
	deliver DeliverFunc

	stop    chan struct{}
	done    chan struct{}
	started bool

	mu         sync.Mutex
	rxStreamID uint32
	txStreamID uint32
	rxPinned   bool
	txPinned   bool
	rxSeq      uint8
	txSeq      uint8
	byteSeq    uint8
	meterSeq   uint8
}

// NewEngine creates an engine on the given connection. Start must be called
// to begin receiving.
func NewEngine(conn Conn, deliver DeliverFunc) *Engine {
	return &Engine{
		conn:    conn,
		deliver: deliver,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Open connects a UDP socket on an ephemeral local port to the radio's data
// port and starts the engine on it.
func Open(radioIP net.IP, deliver DeliverFunc) (*Engine, error) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: radioIP, Port: DataPort})
	if err != nil {
		return nil, fmt.Errorf("cannot open data socket: %w", err)
	}
	result := NewEngine(conn, deliver)
	result.Start()
	return result, nil
}

// Start launches the receive loop.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	go e.receiveLoop()
}

// LocalPort returns the local UDP port the engine is bound to, or 0 if the
// connection is not UDP.
func (e *Engine) LocalPort() int {
	if addr, ok := e.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Stop ends the receive loop, waits for it to exit, and releases the
// socket. Calling Stop again is a no-op.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
		log.Info("data engine already stopped")
		return
	default:
	}
	close(e.stop)
	e.conn.Close()
	if e.started {
		<-e.done
	}
}

func (e *Engine) receiveLoop() {
	defer close(e.done)

	runtime.LockOSThread()
	if err := rt.ElevateCurrentThread(receivePriority); err != nil {
		log.WithError(err).Warn("cannot elevate receive loop to realtime priority")
	}

	buf := make([]byte, 2048)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			select {
			case <-e.stop:
			default:
				log.WithError(err).Error("data socket read failed")
			}
			return
		}

		packet, err := Decode(buf[:n])
		if err != nil {
			log.WithError(err).Warn("dropping packet")
			continue
		}
		e.route(packet)
	}
}

// route classifies a decoded packet and hands it on. The first audio packet
// of each direction pins the expected stream ID; packets with a different
// ID in that direction are rejected rather than mis-delivered.
func (e *Engine) route(packet *Packet) {
	category := CategoryUnknownData
	switch packet.Kind() {
	case KindAudio:
		if !e.pinStreamID(packet) {
			return
		}
		if packet.IsTransmit() {
			category = CategoryTxData
		} else {
			category = CategoryRxData
		}
	case KindByteStream:
		category = CategoryByteData
	}
	e.deliver(category, packet)
}

func (e *Engine) pinStreamID(packet *Packet) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pinned := &e.rxStreamID
	isPinned := &e.rxPinned
	if packet.IsTransmit() {
		pinned = &e.txStreamID
		isPinned = &e.txPinned
	}

	if !*isPinned {
		*pinned = packet.StreamID
		*isPinned = true
		return true
	}
	if *pinned != packet.StreamID {
		log.WithFields(logrus.Fields{
			"stream":   fmt.Sprintf("0x%08X", packet.StreamID),
			"expected": fmt.Sprintf("0x%08X", *pinned),
		}).Warn("rejecting packet with unexpected stream id")
		return false
	}
	return true
}

// SendSamples transmits 32-bit float samples to the given destination. It
// is synchronous and performs no retry.
func (e *Engine) SendSamples(dest Destination, samples []float32) error {
	e.mu.Lock()
	var streamID uint32
	var seq uint8
	switch dest {
	case TransmitterData:
		streamID = TransmitterStreamID
		if e.txPinned {
			streamID = e.txStreamID
		}
		seq = e.txSeq
		e.txSeq = (e.txSeq + 1) & 0xF
	default:
		streamID = SpeakerStreamID
		if e.rxPinned {
			streamID = e.rxStreamID
		}
		seq = e.rxSeq
		e.rxSeq = (e.rxSeq + 1) & 0xF
	}
	e.mu.Unlock()

	packet := newDataPacket(streamID, AudioClass, seq, encodeSamples(samples), time.Now())
	return e.send(packet)
}

// SendByteData transmits a raw byte blob.
func (e *Engine) SendByteData(data []byte) error {
	e.mu.Lock()
	seq := e.byteSeq
	e.byteSeq = (e.byteSeq + 1) & 0xF
	streamID := TransmitterStreamID
	if e.txPinned {
		streamID = e.txStreamID
	}
	e.mu.Unlock()

	packet := newDataPacket(streamID, ByteDataClass, seq, encodeByteData(data), time.Now())
	return e.send(packet)
}

// MeterReading is one meter id/value pair of a meter packet.
type MeterReading struct {
	ID    uint16
	Value uint16
}

// SendMeters transmits a set of meter readings in a single packet.
func (e *Engine) SendMeters(readings []MeterReading) error {
	e.mu.Lock()
	seq := e.meterSeq
	e.meterSeq = (e.meterSeq + 1) & 0xF
	e.mu.Unlock()

	payload := make([]byte, len(readings)*4)
	for i, r := range readings {
		payload[i*4] = byte(r.ID >> 8)
		payload[i*4+1] = byte(r.ID)
		payload[i*4+2] = byte(r.Value >> 8)
		payload[i*4+3] = byte(r.Value)
	}
	return e.send(newMeterPacket(seq, payload))
}

func (e *Engine) send(packet *Packet) error {
	wire, err := packet.Encode()
	if err != nil {
		return err
	}
	n, err := e.conn.Write(wire)
	if err != nil {
		return fmt.Errorf("cannot write to data socket: %w", err)
	}
	if n != len(wire) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(wire))
	}
	return nil
}
