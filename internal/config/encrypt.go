package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowjay/wdlkit/internal/cryptoutil"
)

// EncryptedSuffix marks config files Load and Decode decrypt with
// WDLKIT_CONFIG_KEY.
const EncryptedSuffix = ".enc"

// EncryptConfigFile seals inputPath into outputPath, which defaults to
// inputPath + ".enc". JSON inputs are checked before sealing, because a task
// config that fails to parse is only reported once it has been decrypted.
func EncryptConfigFile(inputPath, outputPath, key string) (string, error) {
	if outputPath == "" {
		outputPath = inputPath + EncryptedSuffix
	}
	if !isEncryptedPath(outputPath) {
		return "", fmt.Errorf("output %s must end in %s", outputPath, EncryptedSuffix)
	}
	if filepath.Clean(outputPath) == filepath.Clean(inputPath) {
		return "", fmt.Errorf("refusing to overwrite %s in place", inputPath)
	}
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(inputPath, ".json") && !json.Valid(plain) {
		return "", fmt.Errorf("%s is not valid JSON", inputPath)
	}
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return "", err
	}
	sealed, err := cryptoutil.EncryptConfig(plain, parsed)
	if err != nil {
		return "", err
	}
	return outputPath, os.WriteFile(outputPath, sealed, 0o600)
}
