package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainConfigKey = "obscal/config-key/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ConfigKeyHash computes the content address of a configuration key.
// The hash is the denormalized equivalence column on calibration rows.
func ConfigKeyHash(key ConfigurationKey) (string, error) {
	canonical, err := MarshalCanonical(key.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("ConfigKeyHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainConfigKey, canonical), nil
}

// MustConfigKeyHash is like ConfigKeyHash but panics on error.
// Keys built from validated configs always marshal.
func MustConfigKeyHash(key ConfigurationKey) string {
	h, err := ConfigKeyHash(key)
	if err != nil {
		panic(err)
	}
	return h
}
