package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const frequencyScale = 10000

// maxEncodableMHz is the largest value that fits the 4-byte fixed point field.
const maxEncodableMHz = float64(math.MaxUint32) / frequencyScale

func putMHz(dst []byte, mhz float64) error {
	if math.IsNaN(mhz) || mhz < 0 || mhz > maxEncodableMHz {
		return fmt.Errorf("frequency out of encodable range: %g MHz", mhz)
	}
	binary.BigEndian.PutUint32(dst, uint32(math.Round(mhz*frequencyScale)))

	return nil
}

func readMHz(src []byte) float64 {
	return float64(binary.BigEndian.Uint32(src)) / frequencyScale
}

// readFixedString decodes a fixed-width field as raw character codes.
func readFixedString(src []byte) string {
	var b strings.Builder
	b.Grow(len(src))
	for _, c := range src {
		b.WriteRune(rune(c))
	}

	return strings.TrimRight(b.String(), "\x00 ")
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
