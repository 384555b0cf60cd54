// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Ref is the 32-byte keyed BLAKE3 digest of a transcript's
// uncompressed content. It is the transcript's identity: the archive
// file name is the digest, and Get recomputes it to detect corruption.
type Ref [32]byte

// String returns the canonical hex form of a ref, as used in file
// names and log output.
func (r Ref) String() string {
	return hex.EncodeToString(r[:])
}

// ParseRef parses a 64-character hex string into a Ref.
func ParseRef(hexString string) (Ref, error) {
	var ref Ref
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return ref, fmt.Errorf("transcript: parsing ref: %w", err)
	}
	if len(decoded) != len(ref) {
		return ref, fmt.Errorf("transcript: ref is %d bytes, want %d", len(decoded), len(ref))
	}
	copy(ref[:], decoded)
	return ref, nil
}

// digestKey is the BLAKE3 key for transcript digests. Domain
// separation: the same bytes hashed in another context produce a
// different digest. The value is the ASCII domain name zero-padded to
// 32 bytes, readable in hex dumps; changing it invalidates every
// existing archive file name.
var digestKey = [32]byte{
	's', 't', 'e', 'w', 'a', 'r', 'd', '.',
	't', 'r', 'a', 'n', 's', 'c', 'r', 'i', 'p', 't',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// digest computes the transcript-domain keyed BLAKE3 digest of data.
func digest(data []byte) Ref {
	// NewKeyed only fails for a wrong key length, which the fixed-size
	// key rules out.
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("transcript: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var ref Ref
	copy(ref[:], hasher.Sum(nil))
	return ref
}

// encoder and decoder are shared across all archives. Both are safe
// for concurrent use; EncodeAll and DecodeAll do not retain state.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("transcript: zstd encoder initialization failed: " + err.Error())
	}

	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transcript: zstd decoder initialization failed: " + err.Error())
	}
}

// Archive is a content-addressed transcript directory. Safe for
// concurrent use: writes go through a temp file and an atomic rename,
// and two Puts of the same content land identical bytes at the same
// path.
type Archive struct {
	dir string
}

// New creates an archive rooted at dir, creating the directory if it
// does not exist.
func New(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: creating archive directory %s: %w", dir, err)
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive's root directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Put archives a transcript and returns its ref. Idempotent: if the
// content is already archived, the existing file is left untouched and
// its ref returned.
func (a *Archive) Put(data []byte) (Ref, error) {
	ref := digest(data)
	finalPath := a.path(ref)

	// Same content, same digest, same file: nothing to write.
	if _, err := os.Stat(finalPath); err == nil {
		return ref, nil
	}

	tmpFile, err := os.CreateTemp(a.dir, "put-*.tmp")
	if err != nil {
		return Ref{}, fmt.Errorf("transcript: creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	compressed := encoder.EncodeAll(data, nil)
	if _, err := tmpFile.Write(compressed); err != nil {
		tmpFile.Close()
		return Ref{}, fmt.Errorf("transcript: writing %s: %w", ref, err)
	}
	if err := tmpFile.Close(); err != nil {
		return Ref{}, fmt.Errorf("transcript: closing %s: %w", ref, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Ref{}, fmt.Errorf("transcript: renaming %s into place: %w", ref, err)
	}

	success = true
	return ref, nil
}

// Get retrieves an archived transcript by ref. The content digest is
// recomputed after decompression; a mismatch (disk corruption, a file
// renamed by hand) is an error rather than silently wrong bytes.
func (a *Archive) Get(ref Ref) ([]byte, error) {
	compressed, err := os.ReadFile(a.path(ref))
	if err != nil {
		return nil, fmt.Errorf("transcript: reading %s: %w", ref, err)
	}

	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("transcript: decompressing %s: %w", ref, err)
	}

	if actual := digest(data); !bytes.Equal(actual[:], ref[:]) {
		return nil, fmt.Errorf("transcript: %s: content digest mismatch (got %s)", ref, actual)
	}
	return data, nil
}

// path returns the archive file path for a ref.
func (a *Archive) path(ref Ref) string {
	return filepath.Join(a.dir, ref.String()+".zst")
}
