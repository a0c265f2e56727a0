package radio

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ftl/flexwave/flex"
)

// processSliceStatus feeds "slice <n> ... mode=<mode> ..." lines into the
// mode state machine. Slice statuses without a mode key are ignored here.
func (r *Radio) processSliceStatus(words []string) {
	if len(words) < 2 {
		return
	}
	sliceIndex, err := strconv.Atoi(words[1])
	if err != nil {
		log.WithError(err).WithField("status", words).Warn("malformed slice index in status")
		return
	}
	mode, ok := flex.FindKeywordArg(words, "mode")
	if !ok {
		return
	}
	r.modeChange(sliceIndex, mode)
}

// modeChange runs the two-phase slice binding: first waveforms bound to
// this slice whose mode no longer matches become inactive, then the first
// unbound waveform matching the new mode becomes active.
func (r *Radio) modeChange(sliceIndex int, mode string) {
	for _, wf := range r.waveforms {
		if wf.Slice() == sliceIndex && wf.ShortName != mode {
			wf.deactivate()
		}
	}
	for _, wf := range r.waveforms {
		if wf.Slice() == -1 && wf.ShortName == mode {
			wf.activate(sliceIndex)
			break
		}
	}
}

// processInterlockStatus broadcasts PTT and unkey requests to all
// waveforms' state callbacks, independent of slice binding.
func (r *Radio) processInterlockStatus(words []string) {
	state, ok := flex.FindKeywordArg(words, "state")
	if !ok {
		return
	}

	var notification State
	switch state {
	case "PTT_REQUESTED":
		notification = StatePTTRequested
	case "UNKEY_REQUESTED":
		notification = StateUnkeyRequested
	default:
		return
	}

	for _, wf := range r.waveforms {
		wf.notifyState(notification)
	}
}

// activate binds the waveform to a slice and opens its data plane.
func (wf *Waveform) activate(sliceIndex int) {
	engine, err := wf.radio.newEngine(wf, wf.deliverData)
	if err != nil {
		log.WithError(err).WithField("waveform", wf.Name).Error("cannot open the data plane")
		return
	}

	wf.mu.Lock()
	wf.activeSlice = sliceIndex
	wf.engine = engine
	wf.mu.Unlock()

	log.WithFields(logrus.Fields{"waveform": wf.Name, "slice": sliceIndex}).Info("waveform active")
	wf.notifyState(StateActive)
}

// deactivate unbinds the waveform and closes its data plane.
func (wf *Waveform) deactivate() {
	wf.mu.Lock()
	sliceIndex := wf.activeSlice
	wf.activeSlice = -1
	engine := wf.engine
	wf.engine = nil
	wf.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}

	log.WithFields(logrus.Fields{"waveform": wf.Name, "slice": sliceIndex}).Info("waveform inactive")
	wf.notifyState(StateInactive)
}

// stopEngine closes the data plane without firing state callbacks, for
// session teardown.
func (wf *Waveform) stopEngine() {
	wf.mu.Lock()
	wf.activeSlice = -1
	engine := wf.engine
	wf.engine = nil
	wf.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}
}
