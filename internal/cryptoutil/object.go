package cryptoutil

import (
	"io"
	"strconv"
	"strings"

	"github.com/minio/sio"
)

// MetadataKey marks objects whose content is sio (DARE) ciphertext.
const MetadataKey = "wdlkit-encrypted"

// ObjectMetadata is the metadata an upload records for its object.
func ObjectMetadata(encrypted bool) map[string]string {
	return map[string]string{MetadataKey: strconv.FormatBool(encrypted)}
}

// IsEncrypted reports whether object metadata marks the content as
// encrypted. S3 returns user metadata keys canonicalized, so the lookup
// ignores case.
func IsEncrypted(meta map[string]string) bool {
	for k, v := range meta {
		if strings.EqualFold(k, MetadataKey) {
			ok, _ := strconv.ParseBool(v)
			return ok
		}
	}
	return false
}

// EncryptWriter seals everything written to it into w.
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return sio.EncryptWriter(w, sio.Config{Key: key})
}

// DecryptReader opens a stream written by EncryptWriter.
func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, sio.Config{Key: key})
}
