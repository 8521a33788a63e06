package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Format is a document encoding for notebook export and import
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ErrUnknownFormat is returned for formats other than json, yaml and toml
var ErrUnknownFormat = errors.New("unknown format")

// ParseFormat accepts a format name or a file extension
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Encode renders a record as a document
func Encode(rec Record, format Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = sonic.MarshalIndent(rec, "", "  ")
	case FormatYAML:
		data, err = yaml.Marshal(rec)
	case FormatTOML:
		data, err = toml.Marshal(rec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return data, nil
}

// Decode parses a document produced by Encode. Cells with empty or
// repeated ids are rejected.
func Decode(data []byte, format Format) (Record, error) {
	var (
		rec Record
		err error
	)
	switch format {
	case FormatJSON:
		err = sonic.Unmarshal(data, &rec)
	case FormatYAML:
		err = yaml.Unmarshal(data, &rec)
	case FormatTOML:
		err = toml.Unmarshal(data, &rec)
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode %s: %w", format, err)
	}

	if err := Validate(rec.Cells); err != nil {
		return Record{}, err
	}
	return rec, nil
}
