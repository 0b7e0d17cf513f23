package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash256Hex(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash256Hex(nil))
}

func TestDecodeHex(t *testing.T) {
	b, err := DecodeHex(" 0x0a0b ", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x0b}, b)

	_, err = DecodeHex("0a0b", 3)
	assert.Error(t, err)
	_, err = DecodeHex("zz", 0)
	assert.Error(t, err)

	b, err = DecodeHex(EncodeToHex([]byte("abc")), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
