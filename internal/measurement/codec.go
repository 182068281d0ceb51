package measurement

import (
	"bytes"
	"encoding/gob"
)

// Encode serializes m for the ring buffer's internal byte log. This is a
// same-process, same-version format only (gob), not a wire protocol —
// cross-process/cross-language framing is explicitly out of scope.
func Encode(m *Measurement) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Measurement, error) {
	var m Measurement
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
