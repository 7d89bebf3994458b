// Package edid decodes, validates and compares EDID blocks and defines the
// transports able to read or write them.
package edid

import (
	"bytes"
	"fmt"
)

const (
	BlockSize = 128

	// ExtensionCountOffset holds the number of 128-byte extension blocks
	// following the base block.
	ExtensionCountOffset = 126
)

var Header = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

func HasHeader(data []byte) bool {
	return bytes.HasPrefix(data, Header)
}

// ValidateBlockChecksum reports whether the bytes of block sum to 0 modulo 256.
func ValidateBlockChecksum(block []byte) bool {
	if len(block) != BlockSize {
		return false
	}
	var sum byte
	for _, b := range block {
		sum += b
	}
	return sum == 0
}

// Validate checks the base block then every extension announced by byte 126.
// The first failing block is reported as a *ChecksumError.
func Validate(data []byte) error {
	if len(data) < BlockSize {
		return fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}
	if !ValidateBlockChecksum(data[:BlockSize]) {
		return &ChecksumError{Block: 0}
	}

	extensionCount := int(data[ExtensionCountOffset])
	for i := 0; i < extensionCount; i++ {
		start := BlockSize + i*BlockSize
		if len(data) < start+BlockSize {
			return fmt.Errorf("%w: extension block %d missing (%d bytes)", ErrTruncated, i, len(data))
		}
		if !ValidateBlockChecksum(data[start : start+BlockSize]) {
			return &ChecksumError{Block: i + 1, Extension: true}
		}
	}
	return nil
}

// FixChecksum returns a copy of block whose last byte makes the block sum to 0.
func FixChecksum(block []byte) ([]byte, error) {
	if len(block) != BlockSize {
		return nil, fmt.Errorf("%w: checksum block must be %d bytes, got %d", ErrTooShort, BlockSize, len(block))
	}
	fixed := make([]byte, BlockSize)
	copy(fixed, block)

	var sum byte
	for _, b := range fixed[:BlockSize-1] {
		sum += b
	}
	fixed[BlockSize-1] = -sum
	return fixed, nil
}

// FixAll repairs the checksum of the base block and of every extension present.
func FixAll(data []byte) ([]byte, error) {
	if len(data) < BlockSize || len(data)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of blocks", ErrTooShort, len(data))
	}
	fixed := make([]byte, 0, len(data))
	for start := 0; start < len(data); start += BlockSize {
		block, err := FixChecksum(data[start : start+BlockSize])
		if err != nil {
			return nil, err
		}
		fixed = append(fixed, block...)
	}
	return fixed, nil
}

// ExpectedLength is the size announced by the base block: 128 bytes per block.
func ExpectedLength(data []byte) int {
	if len(data) < BlockSize {
		return BlockSize
	}
	return BlockSize * (1 + int(data[ExtensionCountOffset]))
}
