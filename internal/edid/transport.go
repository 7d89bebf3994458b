package edid

import "context"

// Transport is a backend able to reach EDID data. Read, write and discovery
// are optional capabilities checked with a type assertion.
type Transport interface {
	Name() string
}

type Reader interface {
	Transport
	ReadEdid(ctx context.Context, target string, opts ReadOptions) (*ReadResult, error)
}

type Writer interface {
	Transport
	WriteEdid(ctx context.Context, target string, data []byte, opts WriteOptions) (*WriteResult, error)
}

type Discoverer interface {
	Transport
	Discover(ctx context.Context) ([]string, error)
}

type ReadOptions struct {
	// Length in bytes; 0 reads the base block plus the announced extensions.
	Length int
	// Validate runs Validate on the data and reports the verdict in Valid.
	Validate bool
	// Strict turns an invalid verdict into an error.
	Strict bool
}

type ReadResult struct {
	Transport string `json:"transport"`
	Target    string `json:"target"`
	Data      []byte `json:"-"`
	Valid     bool   `json:"valid"`
	// ValidationError is the verdict of a non strict validation.
	ValidationError string `json:"validation_error,omitempty"`
}

type WriteOptions struct {
	Verify bool
	// Force skips header and checksum validation, never the length check.
	Force bool
}

type WriteResult struct {
	Transport    string `json:"transport"`
	Target       string `json:"target"`
	BytesWritten int    `json:"bytes_written"`
	Verified     bool   `json:"verified"`
	Forced       bool   `json:"forced"`
}

// CheckWritable applies the pre-write policy shared by every transport.
func CheckWritable(data []byte, force bool) error {
	if len(data) < BlockSize {
		return ErrTooShort
	}
	if force {
		return nil
	}
	if !HasHeader(data) {
		return ErrBadHeader
	}
	return Validate(data)
}
