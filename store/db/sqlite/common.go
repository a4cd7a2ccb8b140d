package sqlite

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/clinote/plugin/ai/note"
)

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// encodeVector packs a vector as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, errors.Errorf("corrupt vector blob of %d bytes", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

func marshalStructured(s *note.StructuredNote) (string, error) {
	if s == nil {
		return "{}", nil
	}
	bytes, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal structured note")
	}
	return string(bytes), nil
}

func unmarshalStructured(raw string) (*note.StructuredNote, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var s note.StructuredNote
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal structured note")
	}
	return &s, nil
}
