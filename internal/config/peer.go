package config

import (
	"errors"
	"time"

	"github.com/dense-identity/callsig/internal/encryption"
	"github.com/dense-identity/callsig/internal/helpers"
)

// PeerConfig is the configuration of one signaling endpoint.
type PeerConfig struct {
	IsProduction bool `env:"IS_PRODUCTION" envDefault:"false"`
	UseTls       bool `env:"USE_TLS" envDefault:"false"`

	// Carriers. NATS is used instead of the relay when NATS_URL is set.
	RelayServerAddr string        `env:"RELAY_SERVER_ADDR" envDefault:"localhost:50051"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	NatsURL         string        `env:"NATS_URL"`

	// Personal Details
	MyIdentity   string `env:"MY_IDENTITY,required"`
	ContactsFile string `env:"CONTACTS_FILE" envDefault:"contacts.yaml"`

	// PKE keys for sealing
	PkePrivateKeyStr            string `env:"PKE_PRIVATE_KEY,required"`
	PkePrivateKey, PkePublicKey []byte
}

func (conf *PeerConfig) ParseKeysAsBytes() error {
	if conf == nil {
		return errors.New("failed to parse keys as bytes")
	}

	var err error
	conf.PkePrivateKey, err = helpers.DecodeHex(conf.PkePrivateKeyStr, encryption.PrivateKeySize)
	if err != nil {
		return err
	}
	conf.PkePublicKey, err = encryption.PublicKey(conf.PkePrivateKey)
	if err != nil {
		return err
	}
	return nil
}
