// Package cryptoutil holds the keys and ciphers behind encrypted objects and
// encrypted configuration files.
package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeySize is the only accepted key length, in bytes.
const KeySize = 32

// ParseKey decodes a key written as "base64:<b64>", "hex:<hex>", a bare
// base64 or hex string, or "env:NAME", which reads any of those forms from
// the environment variable NAME. Task configs are decoded without env
// expansion, so env: keeps keys out of the files WDL localizes.
func ParseKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if name, ok := strings.CutPrefix(value, "env:"); ok {
		value = strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return nil, fmt.Errorf("encryption key variable %s is not set", name)
		}
	}
	if value == "" {
		return nil, errors.New("encryption key is empty")
	}

	var data []byte
	var err error
	if rest, ok := strings.CutPrefix(value, "base64:"); ok {
		data, err = base64.StdEncoding.DecodeString(rest)
	} else if rest, ok := strings.CutPrefix(value, "hex:"); ok {
		data, err = hex.DecodeString(rest)
	} else if len(value) == 2*KeySize {
		// 64 characters is valid base64 too; a bare key that long is hex.
		data, err = hex.DecodeString(value)
	} else {
		data, err = base64.StdEncoding.DecodeString(value)
	}
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("invalid key length: %d (expected %d bytes)", len(data), KeySize)
	}
	return data, nil
}

// OptionalKey is ParseKey for config fields where empty means no encryption.
func OptionalKey(value string) ([]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return ParseKey(value)
}
