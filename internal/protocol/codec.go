package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed means the payload is not an object with a string type, or a
// known type carries a body of the wrong shape.
var ErrMalformed = errors.New("protocol: malformed message")

// Encode serializes m as a JSON object whose first field is "type".
func Encode(m Message) (json.RawMessage, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	if u, ok := m.(Unknown); ok {
		return encodeUnknown(u)
	}
	if m.Type() == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformed)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	tag, _ := json.Marshal(string(m.Type()))

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func encodeUnknown(u Unknown) (json.RawMessage, error) {
	if len(u.Raw) > 0 {
		if !json.Valid(u.Raw) {
			return nil, fmt.Errorf("%w: invalid raw body for %q", ErrMalformed, u.Kind)
		}
		return append(json.RawMessage(nil), u.Raw...), nil
	}
	if u.Kind == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformed)
	}
	return json.Marshal(map[string]string{"type": string(u.Kind)})
}

// Decode parses one payload. Types this side does not model decode to
// Unknown without error, so newer peers can add message kinds.
func Decode(raw []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	tagRaw, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil || tag == "" {
		return nil, fmt.Errorf("%w: type must be a non-empty string", ErrMalformed)
	}

	var m Message
	switch Type(tag) {
	case TypeConnect:
		var v Connect
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
		}
		m = v
	case TypeContact:
		var v Contact
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
		}
		m = v
	case TypeCallResult:
		var v CallResult
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
		}
		m = v
	case TypeCallRecord:
		var v CallRecord
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
		}
		m = v
	case TypeDisconnect:
		m = Disconnect{}
	default:
		m = Unknown{Kind: Type(tag), Raw: append([]byte(nil), raw...)}
	}
	return m, nil
}
