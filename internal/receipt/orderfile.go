package receipt

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadOrder decodes a YAML order and fills in missing identifiers
func ReadOrder(r io.Reader) (Order, error) {
	var o Order
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	return o.Normalized(), nil
}

// LoadOrder reads a YAML order file
func LoadOrder(path string) (Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Order{}, err
	}
	o, err := ReadOrder(bytes.NewReader(data))
	if err != nil {
		return Order{}, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}
