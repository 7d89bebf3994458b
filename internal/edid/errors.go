package edid

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTooShort            = errors.New("EDID too short")
	ErrTruncated           = errors.New("EDID truncated")
	ErrBadHeader           = errors.New("invalid EDID header")
	ErrNoBus               = errors.New("no DDC I2C bus found")
	ErrOverrideUnsupported = errors.New("EDID override not supported by this platform")
	ErrPermission          = errors.New("permission denied")
	ErrVerifyMismatch      = errors.New("EDID verification failed")
	ErrConnectorNotFound   = errors.New("connector not found")
	ErrAmbiguousConnector  = errors.New("connector is ambiguous")
	ErrNotConnected        = errors.New("connector not connected")
	ErrUnsupported         = errors.New("operation not supported by transport")
)

// ChecksumError names the first block failing the checksum: 0 is the base
// block, n the n-th extension.
type ChecksumError struct {
	Block     int
	Extension bool
}

func (e *ChecksumError) Error() string {
	if e.Extension {
		return fmt.Sprintf("extension block %d checksum invalid", e.Block-1)
	}
	return "base EDID checksum invalid"
}

// ReadError wraps any failure to obtain EDID bytes from Source
// ("drm:/sys/class/drm/card0-HDMI-A-1/edid", "i2c-2", ...).
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("EDID read failed on %s: %v", e.Source, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError wraps a write failure on Target. Diffs is set on a verification
// mismatch.
type WriteError struct {
	Target string
	Diffs  []ByteDiff
	Err    error
}

func (e *WriteError) Error() string {
	if len(e.Diffs) > 0 {
		lines := make([]string, 0, len(e.Diffs))
		for _, d := range e.Diffs {
			lines = append(lines, d.String())
		}
		return fmt.Sprintf("EDID write failed on %s: %v (%d bytes differ: %s)", e.Target, e.Err, len(e.Diffs), strings.Join(lines, ", "))
	}
	return fmt.Sprintf("EDID write failed on %s: %v", e.Target, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// AttemptsError is returned once every candidate bus failed. It keeps each
// attempt and unwraps to the last one.
type AttemptsError struct {
	Op       string
	Attempts []Attempt
}

type Attempt struct {
	Target string
	Err    error
}

func (e *AttemptsError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Target, a.Err))
	}
	return fmt.Sprintf("%s failed on every candidate (%s)", e.Op, strings.Join(parts, "; "))
}

func (e *AttemptsError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

type Kind string

const (
	KindNone        Kind = ""
	KindNotPresent  Kind = "not_present"
	KindIO          Kind = "io"
	KindInvalidData Kind = "invalid_data"
	KindUnsupported Kind = "unsupported"
)

// Classify separates the benign "nothing there" cases from I/O failures and
// from data integrity problems.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var checksumErr *ChecksumError
	switch {
	case errors.Is(err, ErrOverrideUnsupported), errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrConnectorNotFound), errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrNoBus), errors.Is(err, os.ErrNotExist):
		return KindNotPresent
	case errors.As(err, &checksumErr), errors.Is(err, ErrTooShort), errors.Is(err, ErrTruncated),
		errors.Is(err, ErrBadHeader), errors.Is(err, ErrVerifyMismatch):
		return KindInvalidData
	}
	return KindIO
}
