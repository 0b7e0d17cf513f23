package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"google.golang.org/protobuf/encoding/protowire"
)

// Frame layout (protobuf wire format, no schema compiler involved):
//
//	1: kind     varint
//	2: call_id  varint
//	3: body     bytes, kind specific
const (
	frameKind   protowire.Number = 1
	frameCallID protowire.Number = 2
	frameBody   protowire.Number = 3
)

const (
	offerSDPType protowire.Number = 1
	offerSDP     protowire.Number = 2
	offerVideo   protowire.Number = 3

	answerAction   protowire.Number = 1
	answerSDPType  protowire.Number = 2
	answerSDP      protowire.Number = 3
	answerVideo    protowire.Number = 4
	answerRejectRs protowire.Number = 5

	candidatesItem    protowire.Number = 1
	candidatesRemoved protowire.Number = 2

	candidateSDP        protowire.Number = 1
	candidateSDPMid     protowire.Number = 2
	candidateMLineIndex protowire.Number = 3
)

// Marshal encodes a message into a frame.
func Marshal(msg Message) ([]byte, error) {
	var body []byte
	switch m := msg.(type) {
	case Offer:
		body = appendString(body, offerSDPType, sdpTypeString(m.Description.Type))
		body = appendString(body, offerSDP, m.Description.SDP)
		body = appendBool(body, offerVideo, m.Features.Video)
	case Answer:
		body = appendVarint(body, answerAction, uint64(m.Action))
		if m.Description != nil {
			body = appendString(body, answerSDPType, sdpTypeString(m.Description.Type))
			body = appendString(body, answerSDP, m.Description.SDP)
		}
		body = appendBool(body, answerVideo, m.Features.Video)
		body = appendVarint(body, answerRejectRs, uint64(m.RejectReason))
	case Candidates:
		for _, c := range m.Candidates {
			body = protowire.AppendTag(body, candidatesItem, protowire.BytesType)
			body = protowire.AppendBytes(body, marshalCandidate(c))
		}
		body = appendBool(body, candidatesRemoved, m.Removed)
	case Ringing, Hangup:
	case nil:
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unsupported message type %T", ErrMalformed, msg)
	}

	b := appendVarint(nil, frameKind, uint64(msg.Kind()))
	b = appendVarint(b, frameCallID, uint64(msg.GetCallID()))
	if len(body) > 0 {
		b = protowire.AppendTag(b, frameBody, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	return b, nil
}

// Unmarshal decodes a frame produced by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (Message, error) {
	var (
		kind   Kind
		callID CallID
		body   []byte
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == frameKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			kind = Kind(v)
			return n
		case num == frameCallID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			callID = CallID(v)
			return n
		case num == frameBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			body = v
			return n
		}
		return 0
	})
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindOffer:
		return unmarshalOffer(callID, body)
	case KindAnswer:
		return unmarshalAnswer(callID, body)
	case KindCandidates:
		return unmarshalCandidates(callID, body)
	case KindRinging:
		return Ringing{CallID: callID}, nil
	case KindHangup:
		return Hangup{CallID: callID}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, kind)
}

func unmarshalOffer(callID CallID, body []byte) (Message, error) {
	o := Offer{CallID: callID}
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == offerSDPType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			o.Description.Type = webrtc.NewSDPType(v)
			return n
		case num == offerSDP && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			o.Description.SDP = v
			return n
		case num == offerVideo && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			o.Features.Video = protowire.DecodeBool(v)
			return n
		}
		return 0
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func unmarshalAnswer(callID CallID, body []byte) (Message, error) {
	a := Answer{CallID: callID}
	var desc webrtc.SessionDescription
	hasDesc := false
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == answerAction && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			a.Action = Action(v)
			return n
		case num == answerSDPType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			desc.Type = webrtc.NewSDPType(v)
			hasDesc = true
			return n
		case num == answerSDP && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			desc.SDP = v
			hasDesc = true
			return n
		case num == answerVideo && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			a.Features.Video = protowire.DecodeBool(v)
			return n
		case num == answerRejectRs && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			a.RejectReason = RejectReason(v)
			return n
		}
		return 0
	})
	if err != nil {
		return nil, err
	}
	if hasDesc {
		a.Description = &desc
	}
	return a, nil
}

func unmarshalCandidates(callID CallID, body []byte) (Message, error) {
	c := Candidates{CallID: callID}
	var inner error
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == candidatesItem && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			cand, err := unmarshalCandidate(v)
			if err != nil {
				inner = err
				return -1
			}
			c.Candidates = append(c.Candidates, cand)
			return n
		case num == candidatesRemoved && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.Removed = protowire.DecodeBool(v)
			return n
		}
		return 0
	})
	if inner != nil {
		return nil, inner
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func marshalCandidate(c webrtc.ICECandidateInit) []byte {
	b := appendString(nil, candidateSDP, c.Candidate)
	if c.SDPMid != nil {
		b = protowire.AppendTag(b, candidateSDPMid, protowire.BytesType)
		b = protowire.AppendString(b, *c.SDPMid)
	}
	if c.SDPMLineIndex != nil {
		b = protowire.AppendTag(b, candidateMLineIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*c.SDPMLineIndex))
	}
	return b
}

func unmarshalCandidate(body []byte) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == candidateSDP && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			c.Candidate = v
			return n
		case num == candidateSDPMid && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n >= 0 {
				c.SDPMid = &v
			}
			return n
		case num == candidateMLineIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n >= 0 {
				idx := uint16(v)
				c.SDPMLineIndex = &idx
			}
			return n
		}
		return 0
	})
	return c, err
}

// walk iterates the fields of b. fn returns the number of bytes it consumed
// for the field value, 0 to skip the field, or a negative protowire error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
