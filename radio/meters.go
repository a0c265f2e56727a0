package radio

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ftl/flexwave/flex"
	"github.com/ftl/flexwave/vita"
)

// meterFPS is the update rate the radio is asked to poll waveform meters
// with.
const meterFPS = 20

// meterFractionalBits is the fixed-point precision of meter values on the
// wire.
const meterFractionalBits = 6

// MeterUnit is the physical unit of a meter.
type MeterUnit int

// All meter units.
const (
	UnitNone MeterUnit = iota
	UnitDB
	UnitDBM
	UnitDBFS
	UnitVolts
	UnitAmps
	UnitRPM
	UnitTempF
	UnitTempC
	UnitSWR
	UnitWatts
	UnitPercent
)

func (u MeterUnit) String() string {
	switch u {
	case UnitDB:
		return "DB"
	case UnitDBM:
		return "DBM"
	case UnitDBFS:
		return "DBFS"
	case UnitVolts:
		return "VOLTS"
	case UnitAmps:
		return "AMPS"
	case UnitRPM:
		return "RPM"
	case UnitTempF:
		return "TEMP_F"
	case UnitTempC:
		return "TEMP_C"
	case UnitSWR:
		return "SWR"
	case UnitWatts:
		return "WATTS"
	case UnitPercent:
		return "PERCENT"
	default:
		return "NONE"
	}
}

// MeterEntry describes one meter for RegisterMeterList.
type MeterEntry struct {
	Name string
	Min  float64
	Max  float64
	Unit MeterUnit
}

type meter struct {
	name string
	min  float64
	max  float64
	unit MeterUnit

	id         uint16
	registered bool
	value      int16
	set        bool
}

// RegisterMeter adds a meter to the waveform. The meter is announced to
// the radio when the session starts.
func (wf *Waveform) RegisterMeter(name string, min, max float64, unit MeterUnit) error {
	if wf.radio.started.Load() {
		return ErrStarted
	}
	wf.meterLock.Lock()
	defer wf.meterLock.Unlock()
	for _, m := range wf.meters {
		if m.name == name {
			return fmt.Errorf("meter %q already exists", name)
		}
	}
	wf.meters = append(wf.meters, &meter{name: name, min: min, max: max, unit: unit})
	return nil
}

// RegisterMeterList adds all given meters to the waveform.
func (wf *Waveform) RegisterMeterList(entries []MeterEntry) error {
	for _, entry := range entries {
		err := wf.RegisterMeter(entry.Name, entry.Min, entry.Max, entry.Unit)
		if err != nil {
			return err
		}
	}
	return nil
}

// createMeters announces all registered meters to the radio. The response
// to each announcement carries the meter id the radio assigned, which is
// needed to report values.
func (wf *Waveform) createMeters() {
	wf.meterLock.Lock()
	defer wf.meterLock.Unlock()
	for _, m := range wf.meters {
		m := m
		wf.SendCommandWithCallback(MeterCreate(m.name, m.min, m.max, m.unit), wf.meterCreated, nil, m)
	}
}

func (wf *Waveform) meterCreated(_ *Waveform, code uint32, message string, arg any) {
	m := arg.(*meter)
	if code != 0 {
		log.WithFields(logrus.Fields{"meter": m.name, "code": code, "message": message}).Error("cannot register meter")
		return
	}
	id, err := parseMeterID(message)
	if err != nil {
		log.WithError(err).WithField("meter", m.name).Error("cannot parse meter id")
		return
	}

	wf.meterLock.Lock()
	defer wf.meterLock.Unlock()
	m.id = id
	m.registered = true
}

// parseMeterID extracts the leading decimal meter id from a response
// message.
func parseMeterID(message string) (uint16, error) {
	end := 0
	for end < len(message) && message[end] >= '0' && message[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("no meter id in %q", message)
	}
	id, err := strconv.ParseUint(message[:end], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("meter id out of range in %q", message)
	}
	return uint16(id), nil
}

// SetMeterInt stores a raw meter value for the next SendMeters.
func (wf *Waveform) SetMeterInt(name string, value int16) error {
	wf.meterLock.Lock()
	defer wf.meterLock.Unlock()
	for _, m := range wf.meters {
		if m.name == name {
			m.value = value
			m.set = true
			return nil
		}
	}
	return fmt.Errorf("meter %q not found", name)
}

// SetMeterFloat stores a meter value, converted to the radio's fixed-point
// format, for the next SendMeters.
func (wf *Waveform) SetMeterFloat(name string, value float64) error {
	return wf.SetMeterInt(name, flex.FloatToFixed(value, meterFractionalBits))
}

// SendMeters transmits all meter values stored since the last call in one
// data-plane packet. Values of unregistered meters are retained for a
// later call. The waveform must be active.
func (wf *Waveform) SendMeters() error {
	wf.mu.Lock()
	engine := wf.engine
	wf.mu.Unlock()
	if engine == nil {
		return ErrInactive
	}

	wf.meterLock.Lock()
	readings := make([]vita.MeterReading, 0, len(wf.meters))
	for _, m := range wf.meters {
		if !m.set || !m.registered {
			continue
		}
		readings = append(readings, vita.MeterReading{ID: m.id, Value: uint16(m.value)})
		m.set = false
	}
	wf.meterLock.Unlock()

	if len(readings) == 0 {
		return nil
	}
	return engine.SendMeters(readings)
}
