// Package capture implements the per-interface capture engine: one
// goroutine per NIC, locked to its own OS thread, that owns the pcap
// handle's promiscuous-mode lifecycle and reads raw frames with a short
// timeout so shutdown stays responsive.
package capture

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/secuaas/netsentinel/internal/decode"
	"github.com/secuaas/netsentinel/internal/errkind"
	"github.com/secuaas/netsentinel/pkg/frame"
	"go.uber.org/zap"
)

// readTimeout bounds each blocking read so the capture loop can notice
// shutdown within roughly one timeout period without spinning.
const readTimeout = 100 * time.Millisecond

// state is the per-interface lifecycle: Configured -> Opened -> Running
// (<-> Stopping) -> Closed.
type state int32

const (
	stateConfigured state = iota
	stateOpened
	stateRunning
	stateStopping
	stateClosed
)

// Config describes one interface's capture parameters.
type Config struct {
	InterfaceName string
	Promiscuous   bool
	SnapLength    int
}

// Stats are one interface's running counters, aggregated by the caller
// across every active interface.
type Stats struct {
	PacketsCaptured atomic.Uint64
	BytesCaptured   atomic.Uint64
	FramesDropped   atomic.Uint64
	ParseErrors     atomic.Uint64
	ReadErrors      atomic.Uint64
}

// Engine runs the capture loop for a single interface.
type Engine struct {
	cfg    Config
	out    chan<- *frame.Record
	logger *zap.Logger

	state  atomic.Int32
	handle *pcap.Handle

	Stats Stats
}

// New constructs a capture engine bound to out, the shared bounded
// channel every interface's engine drains into.
func New(cfg Config, out chan<- *frame.Record, logger *zap.Logger) *Engine {
	e := &Engine{cfg: cfg, out: out, logger: logger.With(zap.String("interface", cfg.InterfaceName))}
	e.state.Store(int32(stateConfigured))
	return e
}

// Open activates a live capture handle on the configured interface,
// requesting promiscuous mode at activation time the way gopacket/pcap
// expects it (SetPromisc is an inactive-handle option, not a separate
// ioctl toggled after the fact).
func (e *Engine) Open() error {
	inactive, err := pcap.NewInactiveHandle(e.cfg.InterfaceName)
	if err != nil {
		return errkind.New(errkind.InterfaceNotFound, fmt.Errorf("open %s: %w", e.cfg.InterfaceName, err))
	}
	defer inactive.CleanUp()

	snapLen := e.cfg.SnapLength
	if snapLen <= 0 {
		snapLen = 1518
	}
	if err := inactive.SetSnapLen(snapLen); err != nil {
		return errkind.New(errkind.ConfigInvalid, fmt.Errorf("set snaplen: %w", err))
	}
	if err := inactive.SetPromisc(e.cfg.Promiscuous); err != nil {
		return errkind.New(errkind.PermissionDenied, fmt.Errorf("set promiscuous mode: %w", err))
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return errkind.New(errkind.ConfigInvalid, fmt.Errorf("set read timeout: %w", err))
	}

	handle, err := inactive.Activate()
	if err != nil {
		return errkind.New(errkind.PermissionDenied, fmt.Errorf("activate %s: %w", e.cfg.InterfaceName, err))
	}

	e.handle = handle
	e.state.Store(int32(stateOpened))
	return nil
}

// Run blocks in the capture loop, locked to its own OS thread, until ctx
// is cancelled. Read errors other than the read timeout are counted in
// Stats.ReadErrors and logged, and the loop keeps reading. The promiscuous
// handle is released on every exit path, including a panic, via defer.
func (e *Engine) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer e.Close()

	e.state.Store(int32(stateRunning))
	e.logger.Info("capture engine running", zap.Bool("promiscuous", e.cfg.Promiscuous))

	for {
		if ctx.Err() != nil {
			e.state.Store(int32(stateStopping))
			e.logger.Info("capture engine stopping")
			return
		}

		data, _, err := e.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			e.Stats.ReadErrors.Add(1)
			e.logger.Warn("capture read error", zap.Error(err), zap.String("error_kind", errkind.InterfaceDown.String()))
			continue
		}

		e.Stats.PacketsCaptured.Add(1)
		e.Stats.BytesCaptured.Add(uint64(len(data)))

		rec, err := decode.Decode(e.cfg.InterfaceName, data, time.Now().UTC())
		if err != nil {
			if de, ok := err.(*decode.Error); ok && de.Kind == decode.Malformed {
				e.Stats.ParseErrors.Add(1)
				e.logger.Debug("malformed frame dropped", zap.Error(err), zap.String("error_kind", errkind.DecodeMalformed.String()))
			} else {
				e.Stats.ParseErrors.Add(1)
				e.logger.Debug("truncated frame dropped", zap.Error(err), zap.String("error_kind", errkind.DecodeTruncated.String()))
			}
			continue
		}

		select {
		case e.out <- rec:
		default:
			e.Stats.FramesDropped.Add(1)
		}
	}
}

// Close releases promiscuous mode and the underlying handle. Safe to call
// more than once; only the first call has an effect.
func (e *Engine) Close() {
	if e.state.Swap(int32(stateClosed)) == int32(stateClosed) {
		return
	}
	if e.handle != nil {
		e.handle.Close()
	}
	e.logger.Info("capture engine closed")
}

// ListInterfaces returns the names of every interface pcap can see,
// for the capture binary's --list-interfaces flag.
func ListInterfaces() ([]string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return nil, errkind.New(errkind.InterfaceNotFound, err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return names, nil
}
