package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/obscal/internal/ir"
)

// encodeJSON renders v as compact JSON TEXT with HTML escaping disabled.
// Struct field order is fixed, so output is stable for equal values.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// marshalConfig converts an optional instrument config to JSON TEXT.
// A nil config is stored as NULL.
func marshalConfig(cfg *ir.InstrumentConfig) (sql.NullString, error) {
	if cfg == nil {
		return sql.NullString{}, nil
	}
	data, err := encodeJSON(cfg)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal config: %w", err)
	}
	return sql.NullString{String: data, Valid: true}, nil
}

func unmarshalConfig(data sql.NullString) (*ir.InstrumentConfig, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var cfg ir.InstrumentConfig
	if err := json.Unmarshal([]byte(data.String), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// marshalKey converts a configuration key to JSON TEXT. The hash column is
// what uniqueness is enforced on; this column only makes the key readable.
func marshalKey(key ir.ConfigurationKey) (string, error) {
	data, err := encodeJSON(key)
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	return data, nil
}

func unmarshalKey(data sql.NullString) (ir.ConfigurationKey, error) {
	var key ir.ConfigurationKey
	if !data.Valid || data.String == "" {
		return key, nil
	}
	if err := json.Unmarshal([]byte(data.String), &key); err != nil {
		return ir.ConfigurationKey{}, fmt.Errorf("unmarshal key: %w", err)
	}
	return key, nil
}

// marshalEventValue converts an edit-event payload to JSON TEXT.
// HardDelete events have no payload and are stored as NULL.
func marshalEventValue(v *ir.CalibrationObservation) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := encodeJSON(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal event value: %w", err)
	}
	return sql.NullString{String: data, Valid: true}, nil
}

func unmarshalEventValue(data sql.NullString) (*ir.CalibrationObservation, error) {
	if !data.Valid {
		return nil, nil
	}
	var v ir.CalibrationObservation
	if err := json.Unmarshal([]byte(data.String), &v); err != nil {
		return nil, fmt.Errorf("unmarshal event value: %w", err)
	}
	return &v, nil
}

// Instants are stored as RFC 3339 TEXT in UTC so that lexical order is
// chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
