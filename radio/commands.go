package radio

import "fmt"

// SubSliceAll subscribes to status updates of all slices.
func SubSliceAll() string {
	return "sub slice all"
}

// WaveformCreate announces a new waveform mode to the radio.
func WaveformCreate(name, shortName, underlyingMode, version string) string {
	return fmt.Sprintf("waveform create name=%s mode=%s underlying_mode=%s version=%s", name, shortName, underlyingMode, version)
}

// WaveformSetTx marks the waveform as transmit-capable.
func WaveformSetTx(name string) string {
	return fmt.Sprintf("waveform set %s tx=1", name)
}

// WaveformSetRxFilterDepth sets the receive filter depth.
func WaveformSetRxFilterDepth(name string, depth int) string {
	return fmt.Sprintf("waveform set %s rx_filter depth=%d", name, depth)
}

// WaveformSetTxFilterDepth sets the transmit filter depth.
func WaveformSetTxFilterDepth(name string, depth int) string {
	return fmt.Sprintf("waveform set %s tx_filter depth=%d", name, depth)
}

// WaveformSetUDPPort announces the waveform's local data-plane port.
func WaveformSetUDPPort(name string, port int) string {
	return fmt.Sprintf("waveform set %s udpport=%d", name, port)
}

// ClientUDPPort announces the client's local data-plane port for the whole
// session.
func ClientUDPPort(port int) string {
	return fmt.Sprintf("client udpport %d", port)
}

// MeterCreate registers a waveform meter with the radio. The radio's
// response carries the assigned meter id.
func MeterCreate(name string, min, max float64, unit MeterUnit) string {
	return fmt.Sprintf("meter create name=%s type=WAVEFORM min=%f max=%f unit=%s fps=%d", name, min, max, unit, meterFPS)
}

// WaveformResponseOK acknowledges a radio-invoked waveform command.
func WaveformResponseOK(sequence uint32) string {
	return fmt.Sprintf("waveform response %d|0", sequence)
}

// WaveformResponseError reports a failed radio-invoked waveform command.
func WaveformResponseError(sequence uint32, code uint32) string {
	return fmt.Sprintf("waveform response %d|%08x", sequence, code)
}
