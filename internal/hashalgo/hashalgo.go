// Package hashalgo implements the project's selectable content-hash
// algorithms: SHA1, SHA256 (default), SHA3-256, and a non-authoritative
// Size+FileName preview mode, plus the hybrid partial hash used for large
// movie files. Every digest is returned as raw bytes plus lowercase hex
// so callers never re-derive one from the other.
package hashalgo

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/sha3"

	"mdbackup/internal/model"
)

// New returns a fresh hash.Hash for the given algorithm. SizeAndName has no
// streaming hash.Hash equivalent; callers must special-case it via
// SizeAndNameDigest below.
func New(algo model.HashAlgorithm) (hash.Hash, error) {
	switch algo {
	case model.HashSHA1:
		return sha1.New(), nil
	case model.HashSHA256:
		return sha256.New(), nil
	case model.HashSHA3_256:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrHashAlgorithmUnavailable, algo)
	}
}

// Digest is the result of hashing a stream: the raw bytes and their hex
// encoding, paired so callers needn't re-derive one from the other.
type Digest struct {
	Bytes []byte
	Hex   string
}

func digestFrom(h hash.Hash) Digest {
	sum := h.Sum(nil)
	return Digest{Bytes: sum, Hex: hex.EncodeToString(sum)}
}

// HashReader streams r through the selected algorithm and returns its
// digest alongside the byte count read.
func HashReader(algo model.HashAlgorithm, r io.Reader) (Digest, int64, error) {
	h, err := New(algo)
	if err != nil {
		return Digest{}, 0, err
	}
	// 1 MiB buffer: large sequential reads keep spinning disks and USB
	// media streaming instead of seeking.
	n, err := io.CopyBuffer(h, r, make([]byte, 1024*1024))
	if err != nil {
		return Digest{}, n, fmt.Errorf("%w: hash stream: %v", model.ErrIO, err)
	}
	return digestFrom(h), n, nil
}

// HashFile opens and fully hashes a file with the selected algorithm. For
// HashSizeAndName callers should use SizeAndNameDigest instead, since this
// mode never opens the file's contents.
func HashFile(algo model.HashAlgorithm, path string) (Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("%w: open %s: %v", model.ErrIO, path, err)
	}
	defer f.Close()
	return HashReader(algo, f)
}

// SizeAndNameDigest computes the non-authoritative preview-mode fingerprint:
// the file's size and base name, never its bytes. It exists so a user can
// get a fast, approximate duplicate estimate before committing to a full
// content hash pass; it never opens the file's contents.
func SizeAndNameDigest(size int64, fileName string) Digest {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s", size, fileName)
	return digestFrom(h)
}

// PartialMovieDigest implements the hybrid large-file hash: one digest
// over the decimal file size, the first chunkBytes and the last
// chunkBytes, so a multi-gigabyte video can be fingerprinted without
// reading the whole file. Head and tail are not hashed separately; the
// result is a single digest of the algorithm's normal length. Files of at
// most 2*chunkBytes are hashed in full instead, since the head and tail
// windows would overlap.
func PartialMovieDigest(algo model.HashAlgorithm, path string, chunkBytes int64) (Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("%w: open %s: %v", model.ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Digest{}, 0, fmt.Errorf("%w: stat %s: %v", model.ErrIO, path, err)
	}
	size := info.Size()

	if size <= chunkBytes*2 {
		return HashReader(algo, f)
	}

	h, err := New(algo)
	if err != nil {
		return Digest{}, 0, err
	}
	fmt.Fprintf(h, "%d", size)

	if _, err := io.CopyN(h, f, chunkBytes); err != nil {
		return Digest{}, 0, fmt.Errorf("%w: hash head %s: %v", model.ErrIO, path, err)
	}
	if _, err := f.Seek(-chunkBytes, io.SeekEnd); err != nil {
		return Digest{}, 0, fmt.Errorf("%w: seek tail %s: %v", model.ErrIO, path, err)
	}
	if _, err := io.CopyN(h, f, chunkBytes); err != nil {
		return Digest{}, 0, fmt.Errorf("%w: hash tail %s: %v", model.ErrIO, path, err)
	}
	return digestFrom(h), size, nil
}

// PartialHashInfo returns the JSON-ish marker recorded in Hash.PartialHashInfo
// for a hybrid movie hash, so the verify stage knows to re-derive the same
// partial digest rather than a full one.
func PartialHashInfo(chunkMB int) string {
	return fmt.Sprintf(`{"chunkMB":%d}`, chunkMB)
}
