// Package serialtransport owns the serial port and runs one AT+PSEND
// request/response exchange against the LoRa modem within a deadline.
package serialtransport

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/vegafield/lora-gateway-bridge/internal/codec"
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
)

// Sentinel errors surfaced by Exchange. The caller (Arbiter-protected
// controller operation) decides what, if anything, to retry.
var (
	ErrPortNotOpen    = errors.New("serialtransport: port not open")
	ErrTimeout        = errors.New("serialtransport: no EVT:RXP2P frame before deadline")
	ErrTransportError = errors.New("serialtransport: I/O failure")
	ErrAborted        = errors.New("serialtransport: exchange aborted by caller")
)

// Port is the narrow slice of go.bug.st/serial.Port this package depends
// on, so tests can substitute an in-memory fake.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Config configures the underlying serial port.
type Config struct {
	PortName    string
	BaudRate    int
	ReadTimeout time.Duration

	// OpenRetries/OpenSpacing govern the open-retry loop.
	OpenRetries int
	OpenSpacing time.Duration
}

// Transport owns the physical serial handle for the duration of one or
// more exchanges. It does not arbitrate access; callers must already hold
// the Arbiter token before calling Open or Exchange.
type Transport struct {
	cfg  Config
	port Port

	// openFunc is overridable in tests to avoid touching a real device.
	openFunc func(name string, mode *serial.Mode) (Port, error)
}

// SetPortOpener overrides how Open obtains a Port, so callers outside this
// package can inject a fake port in tests without touching real hardware.
func (t *Transport) SetPortOpener(open func(name string, mode *serial.Mode) (Port, error)) {
	t.openFunc = open
}

// New constructs a Transport for the given configuration.
func New(cfg Config) *Transport {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.OpenRetries == 0 {
		cfg.OpenRetries = 3
	}
	if cfg.OpenSpacing == 0 {
		cfg.OpenSpacing = time.Second
	}
	return &Transport{
		cfg: cfg,
		openFunc: func(name string, mode *serial.Mode) (Port, error) {
			return serial.Open(name, mode)
		},
	}
}

// Open opens the serial port at the configured baud rate, retrying up to
// cfg.OpenRetries times with cfg.OpenSpacing between attempts.
func (t *Transport) Open() error {
	mode := &serial.Mode{BaudRate: t.cfg.BaudRate}

	var lastErr error
	for attempt := 0; attempt < t.cfg.OpenRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(t.cfg.OpenSpacing)
		}
		p, err := t.openFunc(t.cfg.PortName, mode)
		if err != nil {
			lastErr = err
			continue
		}
		if err := p.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
			p.Close()
			lastErr = err
			continue
		}
		t.port = p
		return nil
	}
	return fmt.Errorf("%w: open %s after %d attempts: %v", ErrTransportError, t.cfg.PortName, t.cfg.OpenRetries, lastErr)
}

// Close closes the port, if open. Safe to call more than once.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Drain clears both the input and output buffers.
func (t *Transport) Drain() error {
	if t.port == nil {
		return ErrPortNotOpen
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: reset input buffer: %v", ErrTransportError, err)
	}
	if err := t.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("%w: reset output buffer: %v", ErrTransportError, err)
	}
	return nil
}

// sendLine writes AT+PSEND=<hexPayload>\r\n to the open port.
func (t *Transport) sendLine(hexPayload string) error {
	if t.port == nil {
		return ErrPortNotOpen
	}
	line := fmt.Sprintf("AT+PSEND=%s\r\n", hexPayload)
	if _, err := t.port.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransportError, err)
	}
	return nil
}

// awaitFrame reads lines from the port until one contains EVT:RXP2P, the
// deadline elapses, or shouldAbort reports true. shouldAbort is polled at
// every read tick (the port's short read timeout, typically ~100ms) and
// again after every line, so a pause raised mid-wait is observed promptly
// rather than only once the whole exchange deadline expires. All other
// lines are ignored. Read errors that are not a plain timeout are
// surfaced as ErrTransportError.
func (t *Transport) awaitFrame(deadline time.Time, shouldAbort func() bool) (string, error) {
	if t.port == nil {
		return "", ErrPortNotOpen
	}
	scanner := bufio.NewScanner(&deadlineReader{port: t.port, deadline: deadline, shouldAbort: shouldAbort})
	for scanner.Scan() {
		if shouldAbort != nil && shouldAbort() {
			return "", errAborted
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		line := scanner.Text()
		if present, hex := codec.ExtractFrame(line); present {
			return hex, nil
		}
		if shouldAbort != nil && shouldAbort() {
			return "", errAborted
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, errAborted) {
			return "", errAborted
		}
		if errors.Is(err, errDeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: read: %v", ErrTransportError, err)
	}
	return "", ErrTimeout
}

// deadlineReader adapts a Port's short-timeout Read calls into a reader
// that gives up once deadline passes or shouldAbort reports true,
// returning a sentinel error to stop the scanner cleanly instead of
// blocking forever on a quiet line. The port's own read timeout
// (cfg.ReadTimeout, ~100ms) bounds how long a single Read call can run,
// which is also the granularity at which shouldAbort gets checked.
type deadlineReader struct {
	port        Port
	deadline    time.Time
	shouldAbort func() bool
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	for {
		if d.shouldAbort != nil && d.shouldAbort() {
			return 0, errAborted
		}
		if time.Now().After(d.deadline) {
			return 0, errDeadlineExceeded
		}
		n, err := d.port.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

var (
	errDeadlineExceeded = errors.New("serialtransport: deadline exceeded")
	errAborted          = errors.New("serialtransport: read wait aborted")
)

// Exchange runs one full request/response cycle: drain, send, await a
// framed reply, decode it. The caller must already hold the arbiter token
// and have called Open. The port is never closed by Exchange; callers
// that own a single per-batch port (the poller) close it once after the
// whole batch, while single-shot command exchanges use
// OpenSendAwaitClose instead.
//
// shouldAbort, when non-nil, is checked before the write and throughout
// the read wait; as soon as it reports true, Exchange returns ErrAborted
// instead of continuing to block toward deadline. Pass nil for callers
// that hold the arbiter for the whole exchange and have nothing to
// preempt them (command handlers).
func (t *Transport) Exchange(hexPayload string, deadline time.Time, shouldAbort func() bool) (decoded string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Global().Error("serialtransport: recovered panic during exchange", "panic", r)
			err = fmt.Errorf("%w: panic: %v", ErrTransportError, r)
		}
	}()

	if shouldAbort != nil && shouldAbort() {
		return "", ErrAborted
	}
	if err := t.Drain(); err != nil {
		return "", err
	}
	if shouldAbort != nil && shouldAbort() {
		return "", ErrAborted
	}
	if err := t.sendLine(hexPayload); err != nil {
		return "", err
	}
	hex, err := t.awaitFrame(deadline, shouldAbort)
	if err != nil {
		if errors.Is(err, errAborted) {
			return "", ErrAborted
		}
		if errors.Is(err, errDeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", err
	}
	hex = strings.TrimSpace(hex)
	decoded, decErr := codec.Decode(hex)
	if decErr != nil {
		return "", fmt.Errorf("%w: decode frame: %v", ErrTransportError, decErr)
	}
	return decoded, nil
}

// OpenSendAwaitClose performs Open, Exchange and Close as a single unit,
// guaranteeing the port is closed on every exit path including a panic
// recovered inside Exchange. This is the shape command handlers use; the
// poller instead opens once per batch and calls Exchange per node.
func (t *Transport) OpenSendAwaitClose(hexPayload string, timeout time.Duration) (string, error) {
	if err := t.Open(); err != nil {
		return "", err
	}
	defer t.Close()
	return t.Exchange(hexPayload, time.Now().Add(timeout), nil)
}
