package radio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ftl/flexwave/vita"
)

// ErrStarted marks registrations attempted after the session has started.
var ErrStarted = errors.New("the session is already started")

// ErrInactive marks data-plane operations on a waveform that is not bound
// to a slice.
var ErrInactive = errors.New("the waveform is not active")

const defaultFilterDepth = 8

// State is a waveform's lifecycle state as driven by the radio's status
// lines. PTTRequested and UnkeyRequested are momentary notifications, they
// do not change the active/inactive state.
type State int

// All waveform states.
const (
	StateInactive State = iota
	StateActive
	StatePTTRequested
	StateUnkeyRequested
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateActive:
		return "ACTIVE"
	case StatePTTRequested:
		return "PTT_REQUESTED"
	case StateUnkeyRequested:
		return "UNKEY_REQUESTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateFunc handles a waveform state change or PTT notification.
type StateFunc func(wf *Waveform, state State, arg any)

// StatusFunc handles a tokenized status line of a subscribed subsystem.
type StatusFunc func(wf *Waveform, words []string, arg any)

// CommandFunc handles a radio-invoked waveform command. The returned code
// is 0 for success; any other value is reported back to the radio as an
// error.
type CommandFunc func(wf *Waveform, args []string, arg any) uint32

// DataFunc handles a received data-plane packet. The packet is owned by the
// callback.
type DataFunc func(wf *Waveform, packet *vita.Packet, arg any)

type stateCallback struct {
	fn  StateFunc
	arg any
}

type statusCallback struct {
	fn  StatusFunc
	arg any
}

type commandCallback struct {
	fn  CommandFunc
	arg any
}

type dataCallback struct {
	fn  DataFunc
	arg any
}

// Waveform is one registered waveform mode. All callbacks must be
// registered before the radio session starts.
type Waveform struct {
	Name           string
	ShortName      string
	UnderlyingMode string
	Version        string

	radio   *Radio
	rxDepth int
	txDepth int

	mu          sync.Mutex
	activeSlice int
	engine      *vita.Engine
	context     any

	stateCallbacks   []stateCallback
	rxCallbacks      []dataCallback
	txCallbacks      []dataCallback
	byteCallbacks    []dataCallback
	unknownCallbacks []dataCallback
	statusCallbacks  map[string][]statusCallback
	commandCallbacks map[string]commandCallback

	meterLock sync.Mutex
	meters    []*meter
}

// SetContext attaches user data to the waveform.
func (wf *Waveform) SetContext(context any) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.context = context
}

// Context returns the user data attached with SetContext.
func (wf *Waveform) Context() any {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.context
}

// Slice returns the slice index the waveform is bound to, or -1.
func (wf *Waveform) Slice() int {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.activeSlice
}

// Active indicates whether the waveform is currently bound to a slice.
func (wf *Waveform) Active() bool {
	return wf.Slice() != -1
}

// SetRxFilterDepth sets the receive filter depth announced to the radio.
func (wf *Waveform) SetRxFilterDepth(depth int) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.rxDepth = depth
	return nil
}

// SetTxFilterDepth sets the transmit filter depth announced to the radio.
func (wf *Waveform) SetTxFilterDepth(depth int) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.txDepth = depth
	return nil
}

// RegisterStateCallback subscribes to state changes and PTT notifications.
func (wf *Waveform) RegisterStateCallback(fn StateFunc, arg any) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.stateCallbacks = append(wf.stateCallbacks, stateCallback{fn, arg})
	return nil
}

// RegisterRxDataCallback subscribes to received audio packets.
func (wf *Waveform) RegisterRxDataCallback(fn DataFunc, arg any) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.rxCallbacks = append(wf.rxCallbacks, dataCallback{fn, arg})
	return nil
}

// RegisterTxDataCallback subscribes to transmit audio packets.
func (wf *Waveform) RegisterTxDataCallback(fn DataFunc, arg any) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.txCallbacks = append(wf.txCallbacks, dataCallback{fn, arg})
	return nil
}

// RegisterByteDataCallback subscribes to byte-stream packets.
func (wf *Waveform) RegisterByteDataCallback(fn DataFunc, arg any) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.byteCallbacks = append(wf.byteCallbacks, dataCallback{fn, arg})
	return nil
}

// RegisterUnknownDataCallback subscribes to packets of unknown class.
func (wf *Waveform) RegisterUnknownDataCallback(fn DataFunc, arg any) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.unknownCallbacks = append(wf.unknownCallbacks, dataCallback{fn, arg})
	return nil
}

// RegisterStatusCallback subscribes to status lines of the given subsystem,
// e.g. "slice" or "interlock".
func (wf *Waveform) RegisterStatusCallback(subsystem string, fn StatusFunc, arg any) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.statusCallbacks[subsystem] = append(wf.statusCallbacks[subsystem], statusCallback{fn, arg})
	return nil
}

// RegisterCommandCallback registers the handler for a radio-invoked
// waveform command of the given name. Only one handler per name is
// allowed.
func (wf *Waveform) RegisterCommandCallback(name string, fn CommandFunc, arg any) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	if _, ok := wf.commandCallbacks[name]; ok {
		return fmt.Errorf("a callback for command %q is already registered", name)
	}
	wf.commandCallbacks[name] = commandCallback{fn, arg}
	return nil
}

// SendCommand sends a fire-and-forget command on behalf of this waveform.
func (wf *Waveform) SendCommand(text string) int64 {
	return wf.radio.sendCommand(wf, nil, nil, nil, nil, text)
}

// SendCommandWithCallback sends a command and registers response callbacks.
func (wf *Waveform) SendCommandWithCallback(text string, complete ResponseFunc, queued ResponseFunc, arg any) int64 {
	return wf.radio.sendCommand(wf, complete, queued, arg, nil, text)
}

// SendTimedCommand sends a command scheduled for the given time.
func (wf *Waveform) SendTimedCommand(at time.Time, text string) int64 {
	return wf.radio.sendCommand(wf, nil, nil, nil, &at, text)
}

// SendSamples transmits audio samples on the data plane. The waveform must
// be active.
func (wf *Waveform) SendSamples(dest vita.Destination, samples []float32) error {
	wf.mu.Lock()
	engine := wf.engine
	wf.mu.Unlock()
	if engine == nil {
		return ErrInactive
	}
	return engine.SendSamples(dest, samples)
}

// SendByteData transmits a raw byte blob on the data plane. The waveform
// must be active.
func (wf *Waveform) SendByteData(data []byte) error {
	wf.mu.Lock()
	engine := wf.engine
	wf.mu.Unlock()
	if engine == nil {
		return ErrInactive
	}
	return engine.SendByteData(data)
}

// deliverData fans a received packet out to the callbacks of its category.
// Each callback gets its own copy as its own task, so one slow callback
// cannot stall the others.
func (wf *Waveform) deliverData(category vita.Category, packet *vita.Packet) {
	var callbacks []dataCallback
	switch category {
	case vita.CategoryRxData:
		callbacks = wf.rxCallbacks
	case vita.CategoryTxData:
		callbacks = wf.txCallbacks
	case vita.CategoryByteData:
		callbacks = wf.byteCallbacks
	default:
		callbacks = wf.unknownCallbacks
	}
	for _, cb := range callbacks {
		cb := cb
		clone := packet.Clone()
		wf.radio.dispatcher.SubmitRealtime(func() {
			cb.fn(wf, clone, cb.arg)
		})
	}
}

// notifyState fires all state callbacks with the given state.
func (wf *Waveform) notifyState(state State) {
	for _, cb := range wf.stateCallbacks {
		cb := cb
		wf.radio.dispatcher.Submit(func() {
			cb.fn(wf, state, cb.arg)
		})
	}
}
