package edid

import (
	"encoding/binary"
	"fmt"
)

const minDecodeLength = 18

type Info struct {
	Manufacturer   string `json:"manufacturer"`
	ProductCode    uint16 `json:"product_code"`
	Serial         uint32 `json:"serial"`
	Week           int    `json:"week"`
	Year           int    `json:"year"`
	ExtensionCount int    `json:"extensions"`
}

// DecodeBasic extracts the identification fields of the base block.
// The extension count is only available when byte 126 is present.
func DecodeBasic(data []byte) (*Info, error) {
	if len(data) < minDecodeLength {
		return nil, fmt.Errorf("%w: need %d bytes to decode, got %d", ErrTooShort, minDecodeLength, len(data))
	}

	info := &Info{
		Manufacturer: decodeManufacturer(data[8], data[9]),
		ProductCode:  binary.LittleEndian.Uint16(data[10:12]),
		Serial:       binary.LittleEndian.Uint32(data[12:16]),
		Week:         int(data[16]),
		Year:         1990 + int(data[17]),
	}
	if len(data) > ExtensionCountOffset {
		info.ExtensionCount = int(data[ExtensionCountOffset])
	}
	return info, nil
}

// Three 5-bit letters packed big-endian, 1 = 'A'.
func decodeManufacturer(hi, lo byte) string {
	id := uint16(hi)<<8 | uint16(lo)
	letters := make([]byte, 3)
	for i, shift := range []uint{10, 5, 0} {
		letters[i] = byte((id>>shift)&0x1F) + 64
	}
	return string(letters)
}
