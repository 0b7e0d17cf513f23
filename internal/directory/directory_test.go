package directory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bobKey = strings.Repeat("ab", 32)

func TestParseAndLookup(t *testing.T) {
	d, err := Parse([]byte(`
contacts:
  - identity: "+15550001111"
    name: Bob
    public_key: "0x` + bobKey + `"
    relay: relay.example.net:50051
`))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	c, err := d.Lookup("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "Bob", c.Name)
	assert.Equal(t, "relay.example.net:50051", c.Relay)
	assert.Len(t, c.Key(), 32)

	key, err := d.PublicKey("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, c.Key(), key)
}

func TestLookupUnknown(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	_, err = d.Lookup("nobody")
	assert.ErrorIs(t, err, ErrUnknownContact)
	_, err = d.PublicKey("nobody")
	assert.ErrorIs(t, err, ErrUnknownContact)
}

func TestRejectsBadContacts(t *testing.T) {
	_, err := New(Contact{PublicKey: bobKey})
	assert.Error(t, err)

	_, err = New(Contact{Identity: "bob", PublicKey: "abcd"})
	assert.Error(t, err)

	_, err = Parse([]byte("contacts: [nope"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contacts:\n  - identity: bob\n    public_key: "+bobKey+"\n"), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	_, err = d.Lookup("bob")
	assert.NoError(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
