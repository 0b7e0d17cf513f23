package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is one opaque payload waiting in a recipient's mailbox.
type Message struct {
	ID        uuid.UUID
	Sender    string
	Recipient string
	Payload   []byte
	StoredAt  time.Time
}

type DeliverRequest struct {
	Message Message
}

type DeliverResponse struct {
	StoredAt time.Time
}

type FetchRequest struct {
	Identity string
}

type FetchResponse struct {
	Messages []Message
}

// wireMessage is implemented by every type carried by the relay service.
type wireMessage interface {
	appendWire(b []byte) []byte
	parseWire(b []byte) error
}

const codecName = "callsig-relay"

// codec plugs the relay types into gRPC under the content subtype
// "callsig-relay".
type codec struct{}

func (codec) Name() string { return codecName }

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("relay codec: cannot marshal %T", v)
	}
	return m.appendWire(nil), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("relay codec: cannot unmarshal into %T", v)
	}
	return m.parseWire(data)
}

func init() {
	encoding.RegisterCodec(codec{})
}

func (m *Message) appendWire(b []byte) []byte {
	if m.ID != uuid.Nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ID[:])
	}
	b = appendString(b, 2, m.Sender)
	b = appendString(b, 3, m.Recipient)
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	if !m.StoredAt.IsZero() {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.StoredAt.UnixMilli()))
	}
	return b
}

func (m *Message) parseWire(b []byte) error {
	*m = Message{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				id, err := uuid.FromBytes(v)
				if err != nil {
					return -1
				}
				m.ID = id
			}
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Sender = v
			return n
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Recipient = v
			return n
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Payload = append([]byte(nil), v...)
			return n
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.StoredAt = time.UnixMilli(int64(v))
			return n
		}
		return 0
	})
}

func (r *DeliverRequest) appendWire(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	return protowire.AppendBytes(b, r.Message.appendWire(nil))
}

func (r *DeliverRequest) parseWire(b []byte) error {
	*r = DeliverRequest{}
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeBytes(b)
		if n >= 0 {
			inner = r.Message.parseWire(v)
		}
		return n
	})
	if inner != nil {
		return inner
	}
	return err
}

func (r *DeliverResponse) appendWire(b []byte) []byte {
	if r.StoredAt.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(r.StoredAt.UnixMilli()))
}

func (r *DeliverResponse) parseWire(b []byte) error {
	*r = DeliverResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.VarintType {
			return 0
		}
		v, n := protowire.ConsumeVarint(b)
		r.StoredAt = time.UnixMilli(int64(v))
		return n
	})
}

func (r *FetchRequest) appendWire(b []byte) []byte {
	return appendString(b, 1, r.Identity)
}

func (r *FetchRequest) parseWire(b []byte) error {
	*r = FetchRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeString(b)
		r.Identity = v
		return n
	})
}

func (r *FetchResponse) appendWire(b []byte) []byte {
	for i := range r.Messages {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Messages[i].appendWire(nil))
	}
	return b
}

func (r *FetchResponse) parseWire(b []byte) error {
	*r = FetchResponse{}
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeBytes(b)
		if n >= 0 {
			var m Message
			if err := m.parseWire(v); err != nil {
				inner = err
				return -1
			}
			r.Messages = append(r.Messages, m)
		}
		return n
	})
	if inner != nil {
		return inner
	}
	return err
}

func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("relay: bad field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("relay: bad field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
