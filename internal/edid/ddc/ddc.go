// Package ddc reads and writes EDID EEPROMs over the DDC channel (I2C
// address 0x50).
package ddc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
)

const (
	Address = 0x50

	// MaxLength is the size addressable with a single byte offset.
	MaxLength = 256

	DefaultPacing = 10 * time.Millisecond

	readChunk = 16
)

// ConnectorResolver maps a DRM connector name to its DDC bus.
type ConnectorResolver interface {
	ResolveConnectorBus(name string) (int, error)
}

type Transport struct {
	lock     sync.Mutex
	buses    BusOpener
	resolver ConnectorResolver
	pacing   time.Duration
}

// NewTransport builds a DDC transport. pacing is the delay after every
// written byte, needed by the EEPROM write cycle; resolver may be nil.
func NewTransport(buses BusOpener, resolver ConnectorResolver, pacing time.Duration) *Transport {
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Transport{
		buses:    buses,
		resolver: resolver,
		pacing:   pacing,
	}
}

func (t *Transport) Name() string {
	return "i2c"
}

func BusName(bus int) string {
	return "i2c-" + strconv.Itoa(bus)
}

// DiscoverDdcBuses probes every bus with an 8-byte header read at 0x50 and
// keeps those answering the EDID header. Probe failures only exclude the bus.
func (t *Transport) DiscoverDdcBuses(ctx context.Context) []int {
	t.lock.Lock()
	defer t.lock.Unlock()

	found := []int{}
	for _, bus := range t.buses.Buses() {
		if ctx.Err() != nil {
			break
		}
		header, err := t.readRaw(ctx, bus, 0, len(edid.Header))
		if err != nil {
			logrus.Debugf("DDC probe failed on %s: %v", BusName(bus), err)
			continue
		}
		if !edid.HasHeader(header) {
			logrus.Debugf("No EDID header on %s", BusName(bus))
			continue
		}
		found = append(found, bus)
	}
	logrus.Debugf("DDC buses found: %v", found)
	return found
}

func (t *Transport) Discover(ctx context.Context) ([]string, error) {
	buses := t.DiscoverDdcBuses(ctx)
	names := make([]string, 0, len(buses))
	for _, bus := range buses {
		names = append(names, BusName(bus))
	}
	return names, nil
}

// ReadEdid reads from target: "" probes every DDC bus, "3" or "i2c-3" names a
// bus, anything else is resolved as a DRM connector.
func (t *Transport) ReadEdid(ctx context.Context, target string, opts edid.ReadOptions) (*edid.ReadResult, error) {
	bus, err := t.resolveTarget(target)
	if err != nil {
		return nil, &edid.ReadError{Source: t.Name() + ":" + target, Err: err}
	}
	return t.ReadWithFallback(ctx, bus, opts)
}

func (t *Transport) WriteEdid(ctx context.Context, target string, data []byte, opts edid.WriteOptions) (*edid.WriteResult, error) {
	bus, err := t.resolveTarget(target)
	if err != nil {
		return nil, &edid.WriteError{Target: t.Name() + ":" + target, Err: err}
	}
	return t.WriteWithFallback(ctx, bus, data, opts)
}

func (t *Transport) resolveTarget(target string) (*int, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, nil
	}
	if bus, err := strconv.Atoi(strings.TrimPrefix(target, "i2c-")); err == nil {
		if bus < 0 {
			return nil, fmt.Errorf("invalid bus number %d", bus)
		}
		return &bus, nil
	}
	if t.resolver == nil {
		return nil, fmt.Errorf("%w: %s", edid.ErrConnectorNotFound, target)
	}
	bus, err := t.resolver.ResolveConnectorBus(target)
	if err != nil {
		return nil, err
	}
	return &bus, nil
}

// ReadBus reads one bus. Length 0 reads the base block and the extensions it
// announces, within MaxLength.
func (t *Transport) ReadBus(ctx context.Context, bus int, opts edid.ReadOptions) (*edid.ReadResult, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.readBus(ctx, bus, opts)
}

func (t *Transport) readBus(ctx context.Context, bus int, opts edid.ReadOptions) (*edid.ReadResult, error) {
	source := BusName(bus)
	if opts.Length < 0 || opts.Length > MaxLength {
		return nil, &edid.ReadError{Source: source, Err: fmt.Errorf("unsupported read length %d (max %d)", opts.Length, MaxLength)}
	}

	length := opts.Length
	if length == 0 {
		length = edid.BlockSize
	}
	data, err := t.readRaw(ctx, bus, 0, length)
	if err != nil {
		return nil, &edid.ReadError{Source: source, Err: err}
	}
	if opts.Length == 0 && edid.HasHeader(data) {
		if expected := edid.ExpectedLength(data); expected > length {
			if expected > MaxLength {
				logrus.Warnf("%s announces %d bytes of EDID, reading the first %d", source, expected, MaxLength)
				expected = MaxLength
			}
			rest, err := t.readRaw(ctx, bus, length, expected-length)
			if err != nil {
				return nil, &edid.ReadError{Source: source, Err: err}
			}
			data = append(data, rest...)
		}
	}

	result := &edid.ReadResult{
		Transport: t.Name(),
		Target:    source,
		Data:      data,
		Valid:     true,
	}
	if opts.Validate {
		verdict := validateRead(data)
		if verdict != nil {
			if opts.Strict {
				return nil, &edid.ReadError{Source: source, Err: verdict}
			}
			result.Valid = false
			result.ValidationError = verdict.Error()
		}
	}
	logrus.Debugf("Read %d EDID bytes from %s (valid: %v)", len(data), source, result.Valid)
	return result, nil
}

func validateRead(data []byte) error {
	if !edid.HasHeader(data) {
		return edid.ErrBadHeader
	}
	if len(data) < edid.BlockSize {
		return fmt.Errorf("%w: %d bytes", edid.ErrTooShort, len(data))
	}
	// A partial read only covers the blocks it contains.
	if len(data) < edid.ExpectedLength(data) {
		if !edid.ValidateBlockChecksum(data[:edid.BlockSize]) {
			return &edid.ChecksumError{Block: 0}
		}
		return nil
	}
	return edid.Validate(data)
}

// ReadWithFallback reads the given bus, or when bus is nil, every discovered
// DDC bus in order until one returns a valid EDID.
func (t *Transport) ReadWithFallback(ctx context.Context, bus *int, opts edid.ReadOptions) (*edid.ReadResult, error) {
	if bus != nil {
		return t.ReadBus(ctx, *bus, opts)
	}

	candidates := t.DiscoverDdcBuses(ctx)
	if len(candidates) == 0 {
		return nil, &edid.ReadError{Source: t.Name(), Err: edid.ErrNoBus}
	}

	strictOpts := opts
	strictOpts.Validate = true
	strictOpts.Strict = true

	attempts := &edid.AttemptsError{Op: "EDID read"}
	for _, candidate := range candidates {
		result, err := t.ReadBus(ctx, candidate, strictOpts)
		if err == nil {
			return result, nil
		}
		logrus.Warnf("EDID read failed on %s: %v", BusName(candidate), err)
		attempts.Attempts = append(attempts.Attempts, edid.Attempt{Target: BusName(candidate), Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &edid.ReadError{Source: t.Name(), Err: attempts}
}

// WriteBus writes data byte by byte with the pacing delay, then optionally
// reads it back raw and fails on any differing byte.
func (t *Transport) WriteBus(ctx context.Context, bus int, data []byte, opts edid.WriteOptions) (*edid.WriteResult, error) {
	target := BusName(bus)
	if err := edid.CheckWritable(data, opts.Force); err != nil {
		return nil, &edid.WriteError{Target: target, Err: err}
	}
	if len(data) > MaxLength {
		return nil, &edid.WriteError{Target: target, Err: fmt.Errorf("%w: %d bytes exceed the %d addressable by DDC", edid.ErrUnsupported, len(data), MaxLength)}
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.writeRaw(ctx, bus, data); err != nil {
		return nil, &edid.WriteError{Target: target, Err: err}
	}

	result := &edid.WriteResult{
		Transport:    t.Name(),
		Target:       target,
		BytesWritten: len(data),
		Forced:       opts.Force,
	}
	if opts.Verify {
		readback, err := t.readRaw(ctx, bus, 0, len(data))
		if err != nil {
			return nil, &edid.WriteError{Target: target, Err: fmt.Errorf("readback failed: %w", err)}
		}
		if diffs := edid.Diff(data, readback); len(diffs) > 0 {
			return nil, &edid.WriteError{Target: target, Diffs: diffs, Err: edid.ErrVerifyMismatch}
		}
		result.Verified = true
	}
	logrus.Infof("EDID written on %s (%d bytes, verified: %v)", target, len(data), result.Verified)
	return result, nil
}

// WriteWithFallback writes to the given bus, or tries every discovered DDC
// bus until one succeeds.
func (t *Transport) WriteWithFallback(ctx context.Context, bus *int, data []byte, opts edid.WriteOptions) (*edid.WriteResult, error) {
	if bus != nil {
		return t.WriteBus(ctx, *bus, data, opts)
	}
	if err := edid.CheckWritable(data, opts.Force); err != nil {
		return nil, &edid.WriteError{Target: t.Name(), Err: err}
	}

	candidates := t.DiscoverDdcBuses(ctx)
	if len(candidates) == 0 {
		return nil, &edid.WriteError{Target: t.Name(), Err: edid.ErrNoBus}
	}

	attempts := &edid.AttemptsError{Op: "EDID write"}
	for _, candidate := range candidates {
		result, err := t.WriteBus(ctx, candidate, data, opts)
		if err == nil {
			return result, nil
		}
		logrus.Warnf("EDID write failed on %s: %v", BusName(candidate), err)
		attempts.Attempts = append(attempts.Attempts, edid.Attempt{Target: BusName(candidate), Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &edid.WriteError{Target: t.Name(), Err: attempts}
}

func (t *Transport) readRaw(ctx context.Context, bus int, offset int, length int) ([]byte, error) {
	if offset+length > MaxLength {
		return nil, fmt.Errorf("read of %d bytes at 0x%02X exceeds %d bytes", length, offset, MaxLength)
	}
	conn, err := t.buses.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", BusName(bus), err)
	}
	defer conn.Close()

	dev := &i2c.Dev{Bus: conn, Addr: Address}
	data := make([]byte, length)
	for pos := 0; pos < length; pos += readChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := pos + readChunk
		if end > length {
			end = length
		}
		if err := dev.Tx([]byte{byte(offset + pos)}, data[pos:end]); err != nil {
			return nil, fmt.Errorf("read at 0x%02X: %w", offset+pos, err)
		}
	}
	return data, nil
}

func (t *Transport) writeRaw(ctx context.Context, bus int, data []byte) error {
	conn, err := t.buses.Open(bus)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", BusName(bus), err)
	}
	defer conn.Close()

	dev := &i2c.Dev{Bus: conn, Addr: Address}

	// The EEPROM must acknowledge before anything is written.
	if err := dev.Tx(nil, make([]byte, 1)); err != nil {
		return fmt.Errorf("no DDC EEPROM answering at 0x%02X: %w", Address, err)
	}

	for offset, b := range data {
		if err := dev.Tx([]byte{byte(offset), b}, nil); err != nil {
			return fmt.Errorf("write at 0x%02X: %w", offset, err)
		}
		if err := pause(ctx, t.pacing); err != nil {
			return fmt.Errorf("write interrupted at 0x%02X: %w", offset, err)
		}
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
