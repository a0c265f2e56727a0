package radio

import (
	"io"
	"sync"
	"time"
)

// NewInMemory creates an in-memory stand-in for the control connection,
// for tests and offline experiments.
func NewInMemory() *InMemory {
	return &InMemory{
		writeSignal: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// InMemory is an io.ReadWriter that lets a test play the radio's side of
// the control connection: PrepareRead feeds incoming lines, Written
// collects what the session sent.
type InMemory struct {
	readLock    sync.Mutex
	readBuffer  []byte
	writeLock   sync.Mutex
	writeBuffer []byte
	writeSignal chan struct{}
	closed      chan struct{}
}

func (rw *InMemory) Close() error {
	select {
	case <-rw.closed:
	default:
		close(rw.closed)
	}
	return nil
}

func (rw *InMemory) Read(p []byte) (int, error) {
	for {
		rw.readLock.Lock()
		if len(rw.readBuffer) > 0 {
			n := copy(p, rw.readBuffer)
			rw.readBuffer = rw.readBuffer[n:]
			rw.readLock.Unlock()
			return n, nil
		}
		rw.readLock.Unlock()

		select {
		case <-rw.closed:
			return 0, io.EOF
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// PrepareRead feeds bytes to the next Read calls.
func (rw *InMemory) PrepareRead(p []byte) {
	rw.readLock.Lock()
	defer rw.readLock.Unlock()
	rw.readBuffer = append(rw.readBuffer, p...)
}

func (rw *InMemory) Write(p []byte) (int, error) {
	rw.writeLock.Lock()
	defer rw.writeLock.Unlock()
	rw.writeBuffer = append(rw.writeBuffer, p...)
	select {
	case rw.writeSignal <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Written returns everything written so far.
func (rw *InMemory) Written() []byte {
	rw.writeLock.Lock()
	defer rw.writeLock.Unlock()
	result := make([]byte, len(rw.writeBuffer))
	copy(result, rw.writeBuffer)
	return result
}

// ClearWrite discards everything written so far.
func (rw *InMemory) ClearWrite() {
	rw.writeLock.Lock()
	defer rw.writeLock.Unlock()
	rw.writeBuffer = nil
}

// WaitUntilWritten blocks until at least one Write happened since the last
// wait.
func (rw *InMemory) WaitUntilWritten() {
	<-rw.writeSignal
}
