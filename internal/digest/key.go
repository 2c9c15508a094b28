package digest

import (
	"crypto/rand"
	"os"
	"path/filepath"
)

const keyFileName = ".smelt-sign-key"

// LoadOrCreateSignKey reads the per-smelt_root signing key, generating and
// persisting a fresh random one on first use.
func LoadOrCreateSignKey(smeltRoot string) ([32]byte, error) {
	var key [32]byte
	path := filepath.Join(smeltRoot, keyFileName)
	b, err := os.ReadFile(path)
	if err == nil && len(b) == 32 {
		copy(key[:], b)
		return key, nil
	}
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	if err := os.WriteFile(path, key[:], 0600); err != nil {
		return key, err
	}
	return key, nil
}
