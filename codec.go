package gobayeux

import (
	"bytes"
	"encoding/json"
)

// Codec turns batches of messages into request bodies and response bodies
// back into messages
type Codec interface {
	Encode(ms []Message) ([]byte, error)
	Decode(p []byte) ([]Message, error)
}

// JSONCodec is the default Codec. Bodies are top-level JSON arrays of
// message objects.
type JSONCodec struct{}

// Encode implements Codec
func (JSONCodec) Encode(ms []Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(ms); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements Codec. Anything other than a JSON array of objects is
// rejected, including trailing data after the array.
func (JSONCodec) Decode(p []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrMessageUnparsable(string(p))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	messages := make([]Message, 0)
	if err := dec.Decode(&messages); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, ErrMessageUnparsable(string(p))
	}
	return messages, nil
}
