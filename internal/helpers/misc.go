package helpers

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
)

func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// Ensure the compiler/runtime keeps 'b' alive until after the overwrite.
	runtime.KeepAlive(b)
}

func EncodeToHex(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodeHex decodes s, which may carry a 0x prefix. A positive size makes any
// other decoded length an error.
func DecodeHex(s string, size int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if size > 0 && len(b) != size {
		return nil, fmt.Errorf("invalid length: expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}
