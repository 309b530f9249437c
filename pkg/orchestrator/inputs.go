package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/sykli/engine/pkg/cache"
)

// hashInputs expands each of patterns as a glob relative to workdir and
// SHA-256-hashes every matched file's contents, recursing into matched
// directories, the raw material cache.InputsFingerprint folds into the
// cache key.
func hashInputs(workdir string, patterns []string) ([]cache.FileDigest, error) {
	var digests []cache.FileDigest
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(workdir, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if err := walkAndHash(workdir, m, seen, &digests); err != nil {
				return nil, err
			}
		}
	}
	return digests, nil
}

func walkAndHash(root, path string, seen map[string]bool, out *[]cache.FileDigest) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if seen[rel] {
			return nil
		}
		seen[rel] = true

		digest, err := hashFile(p)
		if err != nil {
			return err
		}
		*out = append(*out, cache.FileDigest{Path: rel, SHA256: digest})
		return nil
	})
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
