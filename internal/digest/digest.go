// Package digest computes the content digests Smelt records: a command's
// input_digest (§4.2a) and the keyed signature over a persisted Invocation
// (§4.7a). Grounded on internal/build.Ctx.Digest in the teacher, which
// hashes a package's build inputs with sha256; Smelt generalizes the same
// "hash structured inputs into one stable string" idiom to commands and
// switches to blake3, the hash function the retrieval pack's kilroy repo
// uses for its own content-addressed artifact store.
package digest

import (
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// Command hashes the parts of a Command that determine whether it needs to
// re-run: its script, env, resource limits, working dir, the content of
// any dependent_files it declares (§4.2a), and the already-computed
// digests of its dependencies (so the digest is transitive).
func Command(script []string, env map[string]string, numCPUs int, maxMemoryMB, timeoutS int64, workingDir string, dependentFiles, depDigests []string) string {
	h := blake3.New()
	for _, line := range script {
		h.Write([]byte(line))
		h.Write([]byte{0})
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(env[k]))
		h.Write([]byte{0})
	}
	h.Write([]byte(workingDir))
	h.Write([]byte{0})
	writeInt(h, int64(numCPUs))
	writeInt(h, maxMemoryMB)
	writeInt(h, timeoutS)
	if len(dependentFiles) > 0 {
		h.Write([]byte(DependentFiles(workingDir, dependentFiles)))
	}
	dd := append([]string(nil), depDigests...)
	sort.Strings(dd)
	for _, d := range dd {
		h.Write([]byte(d))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeInt(h *blake3.Hasher, v int64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
}

// Sign computes a keyed blake3 digest over data, used to sign the
// persisted invocation.bin (§4.7a). key is typically 32 bytes read from
// (or generated into) $SMELT_ROOT/.smelt-sign-key.
func Sign(key [32]byte, data []byte) (string, error) {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether sig is the correct signature of data under key.
func Verify(key [32]byte, data []byte, sig string) (bool, error) {
	want, err := Sign(key, data)
	if err != nil {
		return false, err
	}
	return want == sig, nil
}
