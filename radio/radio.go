// Package radio connects a waveform implementation to a radio: it maintains
// the control-plane TCP session, correlates command responses, tracks slice
// bindings, and runs the data-plane engine for each active waveform.
package radio

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftl/flexwave/dispatch"
	"github.com/ftl/flexwave/flex"
	"github.com/ftl/flexwave/vita"
)

var log = logrus.WithField("component", "radio")

// ControlPort is the radio's TCP port for the control plane.
const ControlPort = 4992

const readBufferSize = 1024

// sequenceMask keeps command sequence numbers clear of the reserved top bit.
const sequenceMask = 0x7FFFFFFF

// commandErrorOffset is added to a command callback's error code in the
// waveform response sent back to the radio.
const commandErrorOffset = 0x50000000

// ResponseFunc handles a command response. code is 0 on success, message
// carries the response payload.
type ResponseFunc func(wf *Waveform, code uint32, message string, arg any)

// EngineFactory opens the data plane for a waveform that just became
// active. Tests inject their own factory to avoid real sockets.
type EngineFactory func(wf *Waveform, deliver vita.DeliverFunc) (*vita.Engine, error)

type pendingCommand struct {
	waveform *Waveform
	complete ResponseFunc
	queued   ResponseFunc
	arg      any
}

// Radio is one control-plane connection with its registered waveforms. All
// waveforms and callbacks must be registered before Start; the registry is
// iterated lock-free afterwards.
type Radio struct {
	device   io.ReadWriter
	remoteIP net.IP

	dispatcher *dispatch.Dispatcher
	newEngine  EngineFactory

	waveforms []*Waveform

	writeLock sync.Mutex
	sequence  uint32

	pendingLock sync.Mutex
	pending     map[uint32]*pendingCommand

	sessionLock sync.Mutex
	version     string
	handle      string

	started atomic.Bool
	closed  chan struct{}

	closeOnce sync.Once
}

// New creates a radio on an existing connection. Start must be called to
// begin the session.
func New(device io.ReadWriter) *Radio {
	result := &Radio{
		device:     device,
		dispatcher: dispatch.New(),
		pending:    make(map[uint32]*pendingCommand),
		closed:     make(chan struct{}),
	}
	result.newEngine = result.openEngine
	return result
}

// Dial connects to the radio's control port.
func Dial(ip net.IP) (*Radio, error) {
	conn, err := net.DialTCP("tcp4", nil, &net.TCPAddr{IP: ip, Port: ControlPort})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to radio: %w", err)
	}
	result := New(conn)
	result.remoteIP = ip
	return result, nil
}

// AddWaveform registers a new waveform mode with the radio. shortName is
// the mode string announced in slice status lines; underlyingMode is the
// radio-native mode the waveform runs on top of.
func (r *Radio) AddWaveform(name, shortName, underlyingMode, version string) (*Waveform, error) {
	if r.started.Load() {
		return nil, ErrStarted
	}
	result := &Waveform{
		Name:             name,
		ShortName:        shortName,
		UnderlyingMode:   underlyingMode,
		Version:          version,
		radio:            r,
		activeSlice:      -1,
		rxDepth:          defaultFilterDepth,
		txDepth:          defaultFilterDepth,
		statusCallbacks:  make(map[string][]statusCallback),
		commandCallbacks: make(map[string]commandCallback),
	}
	r.waveforms = append(r.waveforms, result)
	return result, nil
}

// Start begins processing incoming lines and announces all registered
// waveforms to the radio.
func (r *Radio) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	lines := readLoop(r.device)
	go func() {
		defer close(r.closed)
		for line := range lines {
			r.processLine(line)
		}
		r.discardPending()
	}()

	r.SendCommand(SubSliceAll())
	for _, wf := range r.waveforms {
		r.SendCommand(WaveformCreate(wf.Name, wf.ShortName, wf.UnderlyingMode, wf.Version))
		r.SendCommand(WaveformSetTx(wf.Name))
		r.SendCommand(WaveformSetRxFilterDepth(wf.Name, wf.rxDepth))
		r.SendCommand(WaveformSetTxFilterDepth(wf.Name, wf.txDepth))
		wf.createMeters()
	}
	return nil
}

// Close tears down the session: active data planes are stopped, the
// connection is closed if it can be, outstanding commands are discarded
// without invoking their callbacks, and the callback workers are drained.
func (r *Radio) Close() {
	r.closeOnce.Do(func() {
		for _, wf := range r.waveforms {
			wf.stopEngine()
		}
		if closer, ok := r.device.(io.Closer); ok {
			closer.Close()
		}
		if r.started.Load() {
			<-r.closed
		}
		r.discardPending()
		r.dispatcher.Close()
	})
}

// SetLogLevel sets the severity threshold of the SDK's log output.
func SetLogLevel(level logrus.Level) {
	logrus.SetLevel(level)
}

// Version returns the api version announced by the radio, if any yet.
func (r *Radio) Version() string {
	r.sessionLock.Lock()
	defer r.sessionLock.Unlock()
	return r.version
}

// Handle returns the session handle assigned by the radio, if any yet.
func (r *Radio) Handle() string {
	r.sessionLock.Lock()
	defer r.sessionLock.Unlock()
	return r.handle
}

// SendCommand sends a fire-and-forget command. It returns the assigned
// sequence number, or -1 if the command could not be written.
func (r *Radio) SendCommand(text string) int64 {
	return r.sendCommand(nil, nil, nil, nil, nil, text)
}

// SendCommandWithCallback sends a command and registers callbacks for its
// response. complete fires on the final response, queued on a
// queued-acknowledgment; either may be nil.
func (r *Radio) SendCommandWithCallback(text string, complete ResponseFunc, queued ResponseFunc, arg any) int64 {
	return r.sendCommand(nil, complete, queued, arg, nil, text)
}

// SendTimedCommand sends a command scheduled for execution at the given
// time.
func (r *Radio) SendTimedCommand(at time.Time, text string) int64 {
	return r.sendCommand(nil, nil, nil, nil, &at, text)
}

// sendCommand assigns the sequence, registers the pending entry before the
// bytes hit the wire, and writes the line. Registration first closes the
// race against a reply arriving before the write returns.
func (r *Radio) sendCommand(wf *Waveform, complete ResponseFunc, queued ResponseFunc, arg any, at *time.Time, text string) int64 {
	sequence := atomic.AddUint32(&r.sequence, 1) & sequenceMask

	registered := complete != nil || queued != nil
	if registered {
		r.pendingLock.Lock()
		r.pending[sequence] = &pendingCommand{
			waveform: wf,
			complete: complete,
			queued:   queued,
			arg:      arg,
		}
		r.pendingLock.Unlock()
	}

	var line string
	if at != nil {
		line = fmt.Sprintf("C%d|@%d.%09d|%s\n", sequence, at.Unix(), at.Nanosecond(), text)
	} else {
		line = fmt.Sprintf("C%d|%s\n", sequence, text)
	}

	r.writeLock.Lock()
	_, err := r.device.Write([]byte(line))
	r.writeLock.Unlock()
	if err != nil {
		log.WithError(err).WithField("command", text).Error("cannot send command")
		if registered {
			r.pendingLock.Lock()
			delete(r.pending, sequence)
			r.pendingLock.Unlock()
		}
		return -1
	}
	return int64(sequence)
}

func (r *Radio) discardPending() {
	r.pendingLock.Lock()
	defer r.pendingLock.Unlock()
	if len(r.pending) > 0 {
		log.WithField("count", len(r.pending)).Debug("discarding outstanding commands")
	}
	r.pending = make(map[uint32]*pendingCommand)
}

// readLoop reads the device and emits complete lines. Empty lines and
// control characters are skipped.
func readLoop(r io.Reader) <-chan string {
	lines := make(chan string, 1)
	go func() {
		defer close(lines)
		buf := make([]byte, readBufferSize)
		currentLine := make([]byte, 0, readBufferSize)
		for {
			n, err := r.Read(buf)
			if err != nil {
				if len(currentLine) > 0 {
					lines <- string(currentLine)
				}
				if err != io.EOF {
					log.WithError(err).Error("control connection read failed")
				}
				return
			}

			for _, b := range buf[0:n] {
				switch {
				case b == '\n':
					if len(currentLine) == 0 {
						continue
					}
					lines <- string(currentLine)
					currentLine = currentLine[:0]
				case b < ' ':
					continue
				default:
					currentLine = append(currentLine, b)
				}
			}
		}
	}()
	return lines
}

func (r *Radio) processLine(line string) {
	if line == "" {
		return
	}
	opcode, body := line[0], line[1:]
	switch opcode {
	case 'V':
		r.sessionLock.Lock()
		r.version = body
		r.sessionLock.Unlock()
		log.WithField("version", body).Info("radio api version")
	case 'H':
		r.sessionLock.Lock()
		r.handle = body
		r.sessionLock.Unlock()
		log.WithField("handle", body).Info("session handle assigned")
	case 'S':
		r.processStatus(body)
	case 'R':
		r.processResponse(body, true)
	case 'Q':
		r.processResponse(body, false)
	case 'C':
		r.processCommand(body)
	default:
		log.WithField("line", line).Debug("ignoring unknown line")
	}
}

// processStatus handles "S<handle>|<status text>": slice and interlock
// statuses drive the mode state machine, and every status is fanned out to
// the callbacks registered for its subsystem.
func (r *Radio) processStatus(body string) {
	_, text, found := strings.Cut(body, "|")
	if !found {
		text = body
	}

	words, err := flex.SplitWords(text)
	if err != nil {
		log.WithError(err).WithField("status", text).Warn("cannot tokenize status")
		return
	}
	if len(words) == 0 {
		return
	}

	switch words[0] {
	case "slice":
		r.processSliceStatus(words)
	case "interlock":
		r.processInterlockStatus(words)
	}

	for _, wf := range r.waveforms {
		wf := wf
		for _, cb := range wf.statusCallbacks[words[0]] {
			cb := cb
			wordsCopy := make([]string, len(words))
			copy(wordsCopy, words)
			r.dispatcher.Submit(func() {
				cb.fn(wf, wordsCopy, cb.arg)
			})
		}
	}
}

// processResponse handles "R<seq>|<hex code>|<message>" (final) and the Q
// variant (queued-acknowledgment). Responses resolve by sequence, so
// out-of-order arrival is fine. An unknown sequence is a no-op. A
// successful queued-acknowledgment keeps the entry pending for the final
// response.
func (r *Radio) processResponse(body string, final bool) {
	sequenceField, rest, found := strings.Cut(body, "|")
	if !found {
		log.WithField("response", body).Warn("malformed response")
		return
	}
	sequence, err := strconv.ParseUint(sequenceField, 10, 32)
	if err != nil {
		log.WithError(err).WithField("response", body).Warn("malformed response sequence")
		return
	}
	codeField, message, _ := strings.Cut(rest, "|")
	code, err := strconv.ParseUint(codeField, 16, 32)
	if err != nil {
		log.WithError(err).WithField("response", body).Warn("malformed response code")
		return
	}

	r.pendingLock.Lock()
	entry, ok := r.pending[uint32(sequence)]
	if ok && (final || code != 0) {
		delete(r.pending, uint32(sequence))
	}
	r.pendingLock.Unlock()
	if !ok {
		return
	}

	callback := entry.complete
	if !final {
		callback = entry.queued
	}
	if callback == nil {
		return
	}
	r.dispatcher.Submit(func() {
		callback(entry.waveform, uint32(code), message, entry.arg)
	})
}

// processCommand handles "C<seq>|slice <n> <name> <args...>": the radio
// invoking a command on the waveform bound to slice n. The matching
// callback runs asynchronously, and exactly one waveform response is sent
// afterwards. No reply is sent when no waveform or callback matches.
func (r *Radio) processCommand(body string) {
	sequenceField, text, found := strings.Cut(body, "|")
	if !found {
		log.WithField("command", body).Warn("malformed radio command")
		return
	}
	sequence, err := strconv.ParseUint(sequenceField, 10, 32)
	if err != nil {
		log.WithError(err).WithField("command", body).Warn("malformed radio command sequence")
		return
	}

	words, err := flex.SplitWords(text)
	if err != nil || len(words) < 3 || words[0] != "slice" {
		log.WithField("command", text).Warn("unsupported radio command")
		return
	}
	sliceIndex, err := strconv.Atoi(words[1])
	if err != nil {
		log.WithError(err).WithField("command", text).Warn("malformed slice index")
		return
	}

	wf := r.waveformBoundTo(sliceIndex)
	if wf == nil {
		log.WithFields(logrus.Fields{"slice": sliceIndex, "command": words[2]}).Info("no waveform bound to slice")
		return
	}
	callback, ok := wf.commandCallbacks[words[2]]
	if !ok {
		log.WithFields(logrus.Fields{"waveform": wf.Name, "command": words[2]}).Info("no callback for radio command")
		return
	}

	args := make([]string, len(words)-3)
	copy(args, words[3:])
	r.dispatcher.Submit(func() {
		code := callback.fn(wf, args, callback.arg)
		if code == 0 {
			r.SendCommand(WaveformResponseOK(uint32(sequence)))
		} else {
			r.SendCommand(WaveformResponseError(uint32(sequence), code+commandErrorOffset))
		}
	})
}

func (r *Radio) waveformBoundTo(sliceIndex int) *Waveform {
	for _, wf := range r.waveforms {
		if wf.Slice() == sliceIndex {
			return wf
		}
	}
	return nil
}

// openEngine is the default engine factory: it connects the data plane to
// the radio and announces the bound local port, both for the waveform and
// for the client session.
func (r *Radio) openEngine(wf *Waveform, deliver vita.DeliverFunc) (*vita.Engine, error) {
	if r.remoteIP == nil {
		return nil, fmt.Errorf("the radio's address is unknown, use Dial to connect")
	}
	engine, err := vita.Open(r.remoteIP, deliver)
	if err != nil {
		return nil, err
	}
	r.SendCommand(WaveformSetUDPPort(wf.Name, engine.LocalPort()))
	r.SendCommand(ClientUDPPort(engine.LocalPort()))
	return engine, nil
}
