package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	configMagic   = "WDK1"
	configVersion = uint16(2)
	nonceSize     = 12
	headerSize    = len(configMagic) + 2
)

var ErrConfigFormat = errors.New("not an encrypted wdlkit config")

// EncryptConfig seals a config file with AES-GCM. The layout is magic,
// big-endian version, nonce, ciphertext; the magic and version are bound to
// the ciphertext as additional data.
func EncryptConfig(plain, key []byte) ([]byte, error) {
	aead, err := configAEAD(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSize+nonceSize, headerSize+nonceSize+len(plain)+aead.Overhead())
	copy(out, configMagic)
	binary.BigEndian.PutUint16(out[len(configMagic):], configVersion)
	nonce := out[headerSize:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, plain, out[:headerSize]), nil
}

// DecryptConfig opens a payload written by EncryptConfig.
func DecryptConfig(sealed, key []byte) ([]byte, error) {
	if len(sealed) < headerSize+nonceSize || string(sealed[:len(configMagic)]) != configMagic {
		return nil, ErrConfigFormat
	}
	if v := binary.BigEndian.Uint16(sealed[len(configMagic):headerSize]); v != configVersion {
		return nil, fmt.Errorf("unsupported config version %d", v)
	}
	aead, err := configAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[headerSize : headerSize+nonceSize]
	plain, err := aead.Open(nil, nonce, sealed[headerSize+nonceSize:], sealed[:headerSize])
	if err != nil {
		return nil, fmt.Errorf("decrypt config: %w", err)
	}
	return plain, nil
}

func configAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
