package directory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dense-identity/callsig/internal/encryption"
	"github.com/dense-identity/callsig/internal/helpers"
	"gopkg.in/yaml.v3"
)

// ErrUnknownContact is returned for identities missing from the directory.
var ErrUnknownContact = errors.New("directory: unknown contact")

// Contact is one reachable peer.
type Contact struct {
	Identity  string `yaml:"identity"`
	Name      string `yaml:"name,omitempty"`
	PublicKey string `yaml:"public_key"` // hex X25519 public key
	Relay     string `yaml:"relay,omitempty"`

	key []byte
}

// Key returns the decoded public key.
func (c Contact) Key() []byte { return c.key }

type file struct {
	Contacts []Contact `yaml:"contacts"`
}

// Directory maps identities to contacts. It is safe for concurrent use.
type Directory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func New(contacts ...Contact) (*Directory, error) {
	d := &Directory{contacts: make(map[string]Contact, len(contacts))}
	for _, c := range contacts {
		if err := d.Add(c); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Load reads a YAML contacts file.
func Load(path string) (*Directory, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return New(f.Contacts...)
}

// Add inserts or replaces a contact.
func (d *Directory) Add(c Contact) error {
	if c.Identity == "" {
		return fmt.Errorf("contact without identity")
	}
	key, err := helpers.DecodeHex(c.PublicKey, encryption.PublicKeySize)
	if err != nil {
		return fmt.Errorf("contact %q: public key: %w", c.Identity, err)
	}
	c.key = key

	d.mu.Lock()
	d.contacts[c.Identity] = c
	d.mu.Unlock()
	return nil
}

func (d *Directory) Lookup(identity string) (Contact, error) {
	d.mu.RLock()
	c, ok := d.contacts[identity]
	d.mu.RUnlock()
	if !ok {
		return Contact{}, fmt.Errorf("%w: %q", ErrUnknownContact, identity)
	}
	return c, nil
}

// PublicKey implements the key lookup the transports need.
func (d *Directory) PublicKey(identity string) ([]byte, error) {
	c, err := d.Lookup(identity)
	if err != nil {
		return nil, err
	}
	return c.key, nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}
