package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/homevent/internal/ir"
)

// marshalName converts a Name to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so equal names store identical text.
func marshalName(n ir.Name) (string, error) {
	data, err := ir.MarshalCanonical(n)
	if err != nil {
		return "", fmt.Errorf("marshal name: %w", err)
	}
	return string(data), nil
}

// unmarshalName parses a stored name. Numbers are decoded via json.Number
// so integers stay int64 and large values keep their precision.
func unmarshalName(data string) (ir.Name, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return ir.Name{}, fmt.Errorf("unmarshal name: %w", err)
	}
	parts := make([]any, len(raw))
	for i, v := range raw {
		num, ok := v.(json.Number)
		if !ok {
			parts[i] = v
			continue
		}
		if n, err := num.Int64(); err == nil {
			parts[i] = n
			continue
		}
		f, err := num.Float64()
		if err != nil {
			return ir.Name{}, fmt.Errorf("unmarshal name: atom %d: %w", i, err)
		}
		parts[i] = f
	}
	n, err := ir.MakeName(parts...)
	if err != nil {
		return ir.Name{}, fmt.Errorf("unmarshal name: %w", err)
	}
	return n, nil
}
