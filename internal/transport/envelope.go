package transport

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const envelopeVersion = 1

// EnvelopeKind tells a signal apart from a delivery receipt.
type EnvelopeKind uint8

const (
	KindSignal EnvelopeKind = iota + 1
	// KindRejected tells the sender that one of its messages could not be
	// accepted by the recipient.
	KindRejected
)

// Envelope is what travels between peers. Signal bodies are sealed for the
// recipient; the header is authenticated as additional data.
type Envelope struct {
	Version   uint8        `cbor:"1,keyasint"`
	Kind      EnvelopeKind `cbor:"2,keyasint"`
	MessageID []byte       `cbor:"3,keyasint"`
	Sender    string       `cbor:"4,keyasint"`
	Sealed    []byte       `cbor:"5,keyasint,omitempty"`
	Reason    string       `cbor:"6,keyasint,omitempty"`
}

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1024,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEnvelope(e *Envelope) ([]byte, error) {
	e.Version = envelopeVersion
	return encMode.Marshal(e)
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", e.Version)
	}
	if e.Kind != KindSignal && e.Kind != KindRejected {
		return nil, fmt.Errorf("unknown envelope kind %d", e.Kind)
	}
	return &e, nil
}

func (e *Envelope) id() (uuid.UUID, error) {
	return uuid.FromBytes(e.MessageID)
}

// additionalData binds a sealed body to its sender and message id.
func additionalData(sender string, id uuid.UUID) []byte {
	out := make([]byte, 0, len(sender)+1+len(id))
	out = append(out, sender...)
	out = append(out, 0)
	return append(out, id[:]...)
}
