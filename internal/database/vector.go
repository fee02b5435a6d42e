package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONVector stores an embedding as a JSON array in a text column.
type JSONVector []float32

func (v JSONVector) Value() (driver.Value, error) {
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("encoding vector: %w", err)
	}
	return string(b), nil
}

func (v *JSONVector) Scan(src any) error {
	var raw []byte
	switch s := src.(type) {
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	case nil:
		*v = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONVector", src)
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decoding vector: %w", err)
	}
	*v = out
	return nil
}

func (v JSONVector) Slice() []float32 { return []float32(v) }

// JSONVectors is the codec for backends without a native vector type.
type JSONVectors struct{}

func (JSONVectors) Value(v []float32) any { return JSONVector(v) }

func (JSONVectors) Scanner() VectorScanner { return new(JSONVector) }
