package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/dense-identity/callsig/internal/helpers"
)

const (
	// X25519 key sizes
	PrivateKeySize = 32
	PublicKeySize  = 32
	// AES-256-GCM parameters
	aesKeySize   = 32
	aesNonceSize = 12
	gcmTagSize   = 16

	// Overhead is the number of bytes Seal adds to the plaintext.
	Overhead = PublicKeySize + aesNonceSize + gcmTagSize
)

var hkdfInfo = []byte("callsig seal v2")

// ErrOpen is returned by Open when the sealed box cannot be authenticated.
var ErrOpen = errors.New("encryption: message authentication failed")

// Seal encrypts plaintext from the holder of senderPrivate to the holder of
// the X25519 private key matching recipientPublic. The key is derived from an
// ephemeral exchange and from the static exchange between the two parties, so
// only a holder of senderPrivate can produce a box that Open accepts for the
// sender's public key. aad is authenticated but not encrypted; Open must be
// given the same aad.
//
// Output format: ephemeralPublic (32) || nonce (12) || ciphertext+tag
func Seal(senderPrivate, recipientPublic, plaintext, aad []byte) ([]byte, error) {
	if len(recipientPublic) != PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", PublicKeySize, len(recipientPublic))
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext cannot be empty")
	}
	senderPublic, err := PublicKey(senderPrivate)
	if err != nil {
		return nil, err
	}

	ephemeralPrivate, ephemeralPublic, err := Keygen()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer helpers.WipeBytes(ephemeralPrivate)

	ephemeralSecret, err := curve25519.X25519(ephemeralPrivate, recipientPublic)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	staticSecret, err := curve25519.X25519(senderPrivate, recipientPublic)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	gcm, err := newGCM(ephemeralSecret, staticSecret, ephemeralPublic, recipientPublic, senderPublic)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, Overhead+len(plaintext))
	out = append(out, ephemeralPublic...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, additionalData(ephemeralPublic, aad)), nil
}

// Open reverses Seal using the recipient's private key. It fails with ErrOpen
// unless the box was sealed by the holder of the private key matching
// senderPublic.
func Open(recipientPrivate, senderPublic, sealed, aad []byte) ([]byte, error) {
	if len(recipientPrivate) != PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", PrivateKeySize, len(recipientPrivate))
	}
	if len(senderPublic) != PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", PublicKeySize, len(senderPublic))
	}
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("sealed message too short: minimum %d bytes required", Overhead)
	}

	ephemeralPublic := sealed[:PublicKeySize]
	nonce := sealed[PublicKeySize : PublicKeySize+aesNonceSize]
	body := sealed[PublicKeySize+aesNonceSize:]

	myPublicKey, err := PublicKey(recipientPrivate)
	if err != nil {
		return nil, err
	}

	ephemeralSecret, err := curve25519.X25519(recipientPrivate, ephemeralPublic)
	if err != nil {
		return nil, ErrOpen
	}
	staticSecret, err := curve25519.X25519(recipientPrivate, senderPublic)
	if err != nil {
		return nil, ErrOpen
	}

	gcm, err := newGCM(ephemeralSecret, staticSecret, ephemeralPublic, myPublicKey, senderPublic)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, body, additionalData(ephemeralPublic, aad))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// Keygen generates a new X25519 key pair.
func Keygen() (privateKey, publicKey []byte, err error) {
	privateKey = make([]byte, PrivateKeySize)
	if _, err := io.ReadFull(rand.Reader, privateKey); err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	publicKey, err = PublicKey(privateKey)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, publicKey, nil
}

// PublicKey derives the X25519 public key for privateKey.
func PublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", PrivateKeySize, len(privateKey))
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to compute public key: %w", err)
	}
	return pub, nil
}

// newGCM derives the AES key with HKDF-SHA256 from both shared secrets,
// salted with ephemeral_pk || recipient_pk || sender_pk.
func newGCM(ephemeralSecret, staticSecret, ephemeralPublic, recipientPublic, senderPublic []byte) (cipher.AEAD, error) {
	ikm := make([]byte, 0, len(ephemeralSecret)+len(staticSecret))
	ikm = append(ikm, ephemeralSecret...)
	ikm = append(ikm, staticSecret...)
	defer helpers.WipeBytes(ikm)

	salt := make([]byte, 0, len(ephemeralPublic)+len(recipientPublic)+len(senderPublic))
	salt = append(salt, ephemeralPublic...)
	salt = append(salt, recipientPublic...)
	salt = append(salt, senderPublic...)

	key := make([]byte, aesKeySize)
	defer helpers.WipeBytes(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func additionalData(ephemeralPublic, aad []byte) []byte {
	out := make([]byte, 0, len(ephemeralPublic)+len(aad))
	out = append(out, ephemeralPublic...)
	return append(out, aad...)
}
