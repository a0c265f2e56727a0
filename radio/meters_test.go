package radio

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/flexwave/vita"
)

func TestRegisterMeterRejectsDuplicates(t *testing.T) {
	r, _ := setupTestRadio(t)
	wf, err := r.AddWaveform("JunkMode", "JUNK", "DIGU", "1.0.0")
	require.NoError(t, err)

	require.NoError(t, wf.RegisterMeter("level", -150, 20, UnitDBFS))
	assert.Error(t, wf.RegisterMeter("level", 0, 1, UnitNone))
}

func TestRegisterMeterList(t *testing.T) {
	r, _ := setupTestRadio(t)
	wf, err := r.AddWaveform("JunkMode", "JUNK", "DIGU", "1.0.0")
	require.NoError(t, err)

	require.NoError(t, wf.RegisterMeterList([]MeterEntry{
		{Name: "level", Min: -150, Max: 20, Unit: UnitDBFS},
		{Name: "temperature", Min: 0, Max: 100, Unit: UnitTempC},
	}))
	assert.Len(t, wf.meters, 2)
}

func TestStartAnnouncesMeters(t *testing.T) {
	r, device := setupTestRadio(t)
	wf, err := r.AddWaveform("JunkMode", "JUNK", "DIGU", "1.0.0")
	require.NoError(t, err)
	require.NoError(t, wf.RegisterMeter("level", -150, 20, UnitDBFS))
	require.NoError(t, r.Start())

	assert.Contains(t, string(device.Written()),
		"|meter create name=level type=WAVEFORM min=-150.000000 max=20.000000 unit=DBFS fps=20\n")
}

var meterCreateSequence = regexp.MustCompile(`C(\d+)\|meter create name=level`)

func TestMeterLifecycle(t *testing.T) {
	r, device := setupTestRadio(t)
	wf, err := r.AddWaveform("JunkMode", "JUNK", "DIGU", "1.0.0")
	require.NoError(t, err)
	require.NoError(t, wf.RegisterMeter("level", -150, 20, UnitDBFS))

	conn := newDataConnStub()
	r.newEngine = func(wf *Waveform, deliver vita.DeliverFunc) (*vita.Engine, error) {
		return vita.NewEngine(conn, deliver), nil
	}
	require.NoError(t, r.Start())

	match := meterCreateSequence.FindStringSubmatch(string(device.Written()))
	require.NotNil(t, match, "the meter announcement must have been sent")
	respond(device, "R%s|0|23", match[1])
	require.Eventually(t, func() bool {
		wf.meterLock.Lock()
		defer wf.meterLock.Unlock()
		return wf.meters[0].registered
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint16(23), wf.meters[0].id)

	respond(device, "S1234|slice 0 mode=JUNK")
	require.Eventually(t, func() bool { return wf.Active() }, time.Second, 10*time.Millisecond)

	require.NoError(t, wf.SetMeterFloat("level", 0.5))
	require.NoError(t, wf.SendMeters())

	datagrams := conn.sentDatagrams()
	require.Len(t, datagrams, 1)
	packet, err := vita.Decode(datagrams[0])
	require.NoError(t, err)
	assert.Equal(t, vita.MeterStreamID, packet.StreamID)
	assert.Equal(t, vita.MeterClass, packet.PacketClass)
	assert.Equal(t, []byte{0x00, 0x17, 0x00, 0x20}, packet.Payload, "id 23 with 0.5 in fixed point")

	require.NoError(t, wf.SendMeters())
	assert.Len(t, conn.sentDatagrams(), 1, "a value is only sent once")
}

func TestSetValueOfUnknownMeter(t *testing.T) {
	r, _ := setupTestRadio(t)
	wf, err := r.AddWaveform("JunkMode", "JUNK", "DIGU", "1.0.0")
	require.NoError(t, err)

	assert.Error(t, wf.SetMeterInt("nonexistent", 1))
}

func TestSendMetersWhileInactive(t *testing.T) {
	r, _ := setupTestRadio(t)
	wf, err := r.AddWaveform("JunkMode", "JUNK", "DIGU", "1.0.0")
	require.NoError(t, err)
	require.NoError(t, r.Start())

	assert.ErrorIs(t, wf.SendMeters(), ErrInactive)
}

func TestParseMeterID(t *testing.T) {
	testCases := []struct {
		message  string
		expected uint16
		invalid  bool
	}{
		{message: "23", expected: 23},
		{message: "23 extra", expected: 23},
		{message: "", invalid: true},
		{message: "not a number", invalid: true},
		{message: "70000", invalid: true},
	}
	for _, tc := range testCases {
		t.Run(tc.message, func(t *testing.T) {
			id, err := parseMeterID(tc.message)
			if tc.invalid {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, id)
			}
		})
	}
}

func TestMeterUnitStrings(t *testing.T) {
	assert.Equal(t, "DBFS", UnitDBFS.String())
	assert.Equal(t, "TEMP_F", UnitTempF.String())
	assert.Equal(t, "NONE", UnitNone.String())
	assert.Equal(t, "NONE", MeterUnit(99).String())
}
