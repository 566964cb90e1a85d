package pack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ehr/diagconfig/internal/domain/catalog"
)

// LoadPayloadFile reads a payload document from a .json, .yaml or .yml file
// and returns it as JSON together with its parsed form.
func LoadPayloadFile(path string) (json.RawMessage, *Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read payload file %s: %w", path, err)
	}
	var raw json.RawMessage
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err = YAMLToJSON(data)
		if err != nil {
			return nil, nil, err
		}
	default:
		raw = data
	}
	p, err := ParsePayload(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, p, nil
}

// YAMLToJSON re-encodes a YAML document as JSON so the payload's JSON field
// names are its only schema.
func YAMLToJSON(data []byte) (json.RawMessage, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: payload yaml: %v", catalog.ErrInvalidValue, err)
	}
	if doc == nil {
		return json.RawMessage(`{}`), nil
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("%w: payload yaml must be a mapping", catalog.ErrInvalidValue)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("%w: payload yaml: %v", catalog.ErrInvalidValue, err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
