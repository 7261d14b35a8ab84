// SPDX-License-Identifier: MIT

// Package files owns the on-disk library layout: atomic moves with hash
// verification, the trash directory, duplicate detection and the integrity
// audit. It mutates the store only through its write API.
package files

import (
	"crypto/md5"  // #nosec G501 -- optional non-security checksum algorithm
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// hashChunkSize is the read granularity for hashing and stream copies.
const hashChunkSize = 8 * 1024

// Supported hash algorithm tags, stored alongside the digest.
const (
	AlgoSHA256   = "sha256"
	AlgoXXHash64 = "xxhash64"
	AlgoMD5      = "md5"
)

// Hasher computes content hashes in fixed-size chunks.
type Hasher struct {
	Algorithm string
	MaxSize   int64 // 0 = unlimited; larger files fail with ErrFileTooLarge
}

// Sum hashes the file at path.
func (h *Hasher) Sum(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("files: stat %s: %w", path, err)
	}
	if h.MaxSize > 0 && info.Size() > h.MaxSize {
		return "", fmt.Errorf("%w: %s is %d bytes (cap %d)", ErrFileTooLarge, path, info.Size(), h.MaxSize)
	}

	f, err := os.Open(path) // #nosec G304 -- paths come from the store
	if err != nil {
		return "", fmt.Errorf("files: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	digest, err := h.newDigest()
	if err != nil {
		return "", err
	}

	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(digest, f, buf); err != nil {
		return "", fmt.Errorf("files: hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func (h *Hasher) newDigest() (hash.Hash, error) {
	switch h.Algorithm {
	case "", AlgoSHA256:
		return sha256.New(), nil
	case AlgoXXHash64:
		return xxhash.New(), nil
	case AlgoMD5:
		return md5.New(), nil // #nosec G401 -- operator-selected checksum, not auth
	default:
		return nil, fmt.Errorf("files: unknown hash algorithm %q", h.Algorithm)
	}
}

// Tag returns the effective algorithm tag.
func (h *Hasher) Tag() string {
	if h.Algorithm == "" {
		return AlgoSHA256
	}
	return h.Algorithm
}
