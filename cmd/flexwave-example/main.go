// The flexwave-example command connects a demo waveform to a radio: it
// registers the "JUNK" mode, plays a sine tone into the speaker stream
// while receiving, reports a fake SNR meter, and periodically emits a
// counter on the byte-data stream.
package main

import (
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ftl/flexwave/discovery"
	"github.com/ftl/flexwave/radio"
	"github.com/ftl/flexwave/vita"
)

var log = logrus.WithField("component", "example")

var rootCmd = &cobra.Command{
	Use:   "flexwave-example",
	Short: "flexwave-example runs a demo waveform against a radio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run()
	},
}

func init() {
	rootCmd.Flags().StringP("host", "H", "", "hostname or IP of the radio (default: perform discovery)")
	rootCmd.Flags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	viper.BindPFlag("host", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	viper.SetEnvPrefix("flexwave")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// sineSteps is the length of one period of the demo tone.
const sineSteps = 24

var sineTable [sineSteps]float32

func init() {
	for i := range sineTable {
		sineTable[i] = float32(math.Sin(2 * math.Pi * float64(i) / sineSteps))
	}
}

type junkContext struct {
	mu      sync.Mutex
	rxPhase int
	tx      bool
	snr     float64
	counter uint64
}

func run() error {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	ip, err := radioIP(viper.GetString("host"))
	if err != nil {
		return err
	}
	log.WithField("radio", ip).Info("connecting")

	r, err := radio.Dial(ip)
	if err != nil {
		return err
	}
	defer r.Close()

	wf, err := r.AddWaveform("JunkMode", "JUNK", "DIGU", "1.0.0")
	if err != nil {
		return err
	}
	ctx := &junkContext{snr: -100}
	wf.SetContext(ctx)

	wf.RegisterStateCallback(onState, nil)
	wf.RegisterRxDataCallback(onRxData, nil)
	wf.RegisterTxDataCallback(onTxData, nil)
	wf.RegisterByteDataCallback(onByteData, nil)
	wf.RegisterStatusCallback("slice", onSliceStatus, nil)
	wf.RegisterCommandCallback("set", onSetCommand, nil)
	wf.RegisterMeterList([]radio.MeterEntry{
		{Name: "junk-snr", Min: -100, Max: 100, Unit: radio.UnitDB},
		{Name: "junk-foff", Min: 0, Max: 100000, Unit: radio.UnitDB},
		{Name: "junk-clock-offset", Min: 0, Max: 100000, Unit: radio.UnitDB},
	})

	if err := r.Start(); err != nil {
		return err
	}
	log.Info("waveform registered, waiting for a slice in JUNK mode")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	log.Info("shutting down")
	return nil
}

// radioIP resolves the configured host, falling back to discovery when
// none is given.
func radioIP(host string) (net.IP, error) {
	if host == "" {
		addr, err := discovery.Discover(10 * time.Second)
		if err != nil {
			return nil, err
		}
		return addr.IP, nil
	}
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %q: %w", host, err)
	}
	return addr.IP, nil
}

func onState(wf *radio.Waveform, state radio.State, _ any) {
	ctx := wf.Context().(*junkContext)
	log.WithField("state", state).Info("waveform state")
	switch state {
	case radio.StateActive:
		wf.SendCommandWithCallback("filt 0 100 3000", func(_ *radio.Waveform, code uint32, message string, _ any) {
			if code != 0 {
				log.WithFields(logrus.Fields{"code": code, "message": message}).Error("cannot set filter")
			}
		}, nil, nil)
	case radio.StatePTTRequested:
		ctx.mu.Lock()
		ctx.tx = true
		ctx.mu.Unlock()
	case radio.StateUnkeyRequested:
		ctx.mu.Lock()
		ctx.tx = false
		ctx.mu.Unlock()
	}
}

// onRxData answers every received audio packet with a sine tone of the
// same length and updates the demo meter.
func onRxData(wf *radio.Waveform, packet *vita.Packet, _ any) {
	ctx := wf.Context().(*junkContext)

	ctx.mu.Lock()
	if ctx.tx {
		ctx.mu.Unlock()
		return
	}
	samples := make([]float32, packet.SampleCount())
	for i := 0; i+1 < len(samples); i += 2 {
		sample := sineTable[ctx.rxPhase] * 0.5
		samples[i] = sample
		samples[i+1] = sample
		ctx.rxPhase = (ctx.rxPhase + 1) % sineSteps
	}
	snr := ctx.snr
	ctx.snr++
	if ctx.snr > 100 {
		ctx.snr = -100
	}
	ctx.counter++
	counter := ctx.counter
	ctx.mu.Unlock()

	if err := wf.SendSamples(vita.SpeakerData, samples); err != nil {
		log.WithError(err).Warn("cannot send samples")
		return
	}

	wf.SetMeterFloat("junk-snr", snr)
	if err := wf.SendMeters(); err != nil {
		log.WithError(err).Warn("cannot send meters")
	}

	if counter%100 == 0 {
		message := fmt.Sprintf("Callback Counter: %d\n", counter)
		if err := wf.SendByteData([]byte(message)); err != nil {
			log.WithError(err).Warn("cannot send byte data")
		}
	}
}

func onTxData(wf *radio.Waveform, packet *vita.Packet, _ any) {
	// Loop the transmit audio straight back.
	if err := wf.SendSamples(vita.TransmitterData, packet.Samples()); err != nil {
		log.WithError(err).Warn("cannot send samples")
	}
}

func onByteData(_ *radio.Waveform, packet *vita.Packet, _ any) {
	log.WithField("bytes", len(packet.ByteData())).Info("byte data received")
}

func onSliceStatus(_ *radio.Waveform, words []string, _ any) {
	log.WithField("status", words).Debug("slice status")
}

func onSetCommand(_ *radio.Waveform, args []string, _ any) uint32 {
	log.WithField("args", args).Info("set command from radio")
	return 0
}
