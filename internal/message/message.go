// Package message defines the sync protocol messages and their plain (JSON)
// encoding.
//
// Messages are externally tagged:
//
//	{"Request": {"topics": ["temp"], "range": [0, 150]}}
//	{"Update": {"topic": "temp", "data": [[100, {"Number": 20.5}]]}}
//	{"NewDatapoint": {"topic": "temp", "time": 100, "value": {"Number": 20.5}}}
//
// A reply to a Request is a JSON array of Update messages sent in one frame.
package message

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/types"
)

// Kind identifies the variant of a Message.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindRequest
	KindUpdate
	KindNewDatapoint
)

// String returns the wire tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindUpdate:
		return "Update"
	case KindNewDatapoint:
		return "NewDatapoint"
	default:
		return "Invalid"
	}
}

// Range is an inclusive [start, end] time window in milliseconds.
type Range [2]uint64

// Start returns the lower bound.
func (r Range) Start() uint64 { return r[0] }

// End returns the upper bound.
func (r Range) End() uint64 { return r[1] }

// Request asks for the series of a set of topics, optionally windowed.
type Request struct {
	Topics []string `json:"topics"`
	Range  *Range   `json:"range,omitempty"`
}

// Update carries (part of) one topic's series.
type Update struct {
	Topic string       `json:"topic"`
	Data  types.Series `json:"data"`
}

// Message is the tagged union of everything that travels as a plain frame.
// Exactly one field is set.
type Message struct {
	Request      *Request      `json:"Request,omitempty"`
	Update       *Update       `json:"Update,omitempty"`
	NewDatapoint *types.Sample `json:"NewDatapoint,omitempty"`
}

// NewRequest builds a Request message. Pass a nil window for whole series.
func NewRequest(topics []string, window *Range) Message {
	return Message{Request: &Request{Topics: topics, Range: window}}
}

// NewUpdate builds an Update message.
func NewUpdate(topic string, data types.Series) Message {
	if data == nil {
		data = types.Series{}
	}
	return Message{Update: &Update{Topic: topic, Data: data}}
}

// NewDatapoint builds a NewDatapoint message.
func NewDatapoint(s types.Sample) Message {
	return Message{NewDatapoint: &s}
}

// Kind returns which variant is set.
func (m Message) Kind() Kind {
	switch {
	case m.Request != nil:
		return KindRequest
	case m.Update != nil:
		return KindUpdate
	case m.NewDatapoint != nil:
		return KindNewDatapoint
	default:
		return KindInvalid
	}
}

func (m Message) count() int {
	n := 0
	if m.Request != nil {
		n++
	}
	if m.Update != nil {
		n++
	}
	if m.NewDatapoint != nil {
		n++
	}
	return n
}

// Marshal encodes a single message.
func Marshal(m Message) ([]byte, error) {
	if m.count() != 1 {
		return nil, errors.Encodef(nil, "message has %d variants set", m.count())
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Encodef(err, "marshal %s", m.Kind())
	}
	return b, nil
}

// MarshalReply encodes a Request reply: a JSON array of Update messages.
// An empty set encodes as [].
func MarshalReply(updates []Update) ([]byte, error) {
	msgs := make([]Message, len(updates))
	for i := range updates {
		u := updates[i]
		if u.Data == nil {
			u.Data = types.Series{}
		}
		msgs[i] = Message{Update: &u}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, errors.Encodef(err, "marshal reply")
	}
	return b, nil
}

// Unmarshal decodes a single message. Any failure is a decode error.
func Unmarshal(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, errors.Decodef(err, "parse message")
	}
	if len(raw) != 1 {
		return Message{}, errors.Decodef(errors.ErrUnknownMessage, "expected one tag, got %d", len(raw))
	}

	var m Message
	for tag, body := range raw {
		var target any
		switch tag {
		case "Request":
			m.Request = &Request{}
			target = m.Request
		case "Update":
			m.Update = &Update{}
			target = m.Update
		case "NewDatapoint":
			m.NewDatapoint = &types.Sample{}
			target = m.NewDatapoint
		default:
			return Message{}, errors.Decodef(errors.ErrUnknownMessage, "tag %q", tag)
		}
		if err := json.Unmarshal(body, target); err != nil {
			return Message{}, errors.Decodef(err, "parse %s", tag)
		}
	}

	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// UnmarshalBatch decodes a text frame that holds either one message or a
// JSON array of messages (a Request reply).
func UnmarshalBatch(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.Decodef(errors.ErrEmptyFrame, "text frame")
	}
	if trimmed[0] != '[' {
		m, err := Unmarshal(trimmed)
		if err != nil {
			return nil, err
		}
		return []Message{m}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, errors.Decodef(err, "parse message array")
	}
	out := make([]Message, 0, len(raws))
	for i, r := range raws {
		m, err := Unmarshal(r)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (m Message) validate() error {
	switch {
	case m.Request != nil:
		for _, t := range m.Request.Topics {
			if t == "" {
				return errors.Decodef(errors.ErrInvalidTopic, "empty topic in request")
			}
		}
	case m.Update != nil:
		if m.Update.Topic == "" {
			return errors.Decodef(errors.ErrInvalidTopic, "update without topic")
		}
		for _, p := range m.Update.Data {
			if !p.Value.IsValid() {
				return errors.Decodef(errors.ErrInvalidValueType, "update %s at %d", m.Update.Topic, p.Time)
			}
		}
	case m.NewDatapoint != nil:
		if m.NewDatapoint.Topic == "" {
			return errors.Decodef(errors.ErrInvalidTopic, "datapoint without topic")
		}
		if !m.NewDatapoint.Value.IsValid() {
			return errors.Decodef(errors.ErrInvalidValueType, "datapoint %s", m.NewDatapoint.Topic)
		}
	}
	return nil
}
