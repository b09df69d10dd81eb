// Copyright 2026 The AIIR Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/aiir-foundation/aiir/lib/secret"
)

// CompressionTag identifies the compression applied to one archived
// file. Tags are recorded in the archive manifest by name; the values
// are format constants and changing them breaks existing archives.
type CompressionTag uint8

const (
	// CompressionNone: stored as-is. Used for payloads the probe
	// found incompressible (disk images, already-compressed captures).
	CompressionNone CompressionTag = 0

	// CompressionLZ4: block LZ4. Fast path for binary payloads that
	// compress a little but not enough to pay for zstd.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd: zstd at the default level. Used for text-like
	// payloads (logs, exports, JSON) where the ratio is worth the CPU.
	CompressionZstd CompressionTag = 2
)

// String returns the manifest name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

func parseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag %q", name)
	}
}

// sealMagic opens the plaintext container inside the age stream, so a
// decrypted archive is self-identifying before any parsing.
var sealMagic = []byte("AIIRSEAL")

const sealVersion = 1

// Manifest describes a sealed evidence archive. It is stored inside
// the encrypted stream, ahead of the file payloads.
type Manifest struct {
	CaseID   string         `json:"case_id"`
	SealedAt string         `json:"sealed_at"`
	SealedBy string         `json:"sealed_by"`
	Files    []ManifestFile `json:"files"`
}

// ManifestFile describes one archived file. BLAKE3 is the digest of
// the plaintext payload and is verified on open; SHA256 carries the
// registry digest when the file was registered, tying the archive back
// to the chain of custody.
type ManifestFile struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	BLAKE3         string `json:"blake3"`
	SHA256         string `json:"sha256,omitempty"`
	Compression    string `json:"compression"`
	CompressedSize int64  `json:"compressed_size"`
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("evidence: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("evidence: zstd decoder initialization failed: " + err.Error())
	}
}

// Seal packages the evidence tree into one encrypted archive at
// outPath. Each file is compressed according to a probe, digested with
// BLAKE3, and recorded in the manifest together with its registry
// SHA-256 when one exists. The archive is encrypted to an age scrypt
// recipient derived from the passphrase and written atomically with
// mode 0600.
func (r *Registry) Seal(outPath string, passphrase *secret.Buffer) (*Manifest, error) {
	if _, err := os.Stat(r.Dir()); err != nil {
		return nil, fmt.Errorf("evidence directory: %w", err)
	}
	// Walk the resolved tree so paths line up with the resolved paths
	// the registry records.
	dir, err := resolve(r.Dir())
	if err != nil {
		return nil, fmt.Errorf("resolving evidence directory: %w", err)
	}

	var paths []string
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking evidence directory: %w", walkErr)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no evidence files to seal under %s", dir)
	}

	shaByPath := make(map[string]string)
	for _, entry := range r.loadRegistry().Files {
		shaByPath[entry.Path] = entry.SHA256
	}

	manifest := &Manifest{
		CaseID:   filepath.Base(r.CaseDir),
		SealedAt: r.now(),
		SealedBy: r.Identity.Examiner,
	}
	var payloads bytes.Buffer
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, fmt.Errorf("relativizing %s: %w", path, err)
		}

		digest := blake3.Sum256(data)
		compressed, tag := compressAuto(data)

		manifest.Files = append(manifest.Files, ManifestFile{
			Path:           filepath.ToSlash(rel),
			Size:           int64(len(data)),
			BLAKE3:         hex.EncodeToString(digest[:]),
			SHA256:         shaByPath[path],
			Compression:    tag.String(),
			CompressedSize: int64(len(compressed)),
		})
		payloads.Write(compressed)
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encoding archive manifest: %w", err)
	}

	var inner bytes.Buffer
	inner.Write(sealMagic)
	inner.WriteByte(sealVersion)
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(manifestJSON)))
	inner.Write(lengthPrefix[:])
	inner.Write(manifestJSON)
	inner.Write(payloads.Bytes())

	if err := r.writeArchive(outPath, inner.Bytes(), passphrase); err != nil {
		return nil, err
	}

	r.logAccess("seal", outPath, "")
	return manifest, nil
}

func (r *Registry) writeArchive(outPath string, inner []byte, passphrase *secret.Buffer) error {
	// The passphrase crosses to a heap string at the age API boundary;
	// the copy is request-scoped.
	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return fmt.Errorf("deriving archive recipient: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	encryptor, err := age.Encrypt(tmp, recipient)
	if err != nil {
		return fmt.Errorf("starting archive encryption: %w", err)
	}
	if _, err := encryptor.Write(inner); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := encryptor.Close(); err != nil {
		return fmt.Errorf("finalizing archive encryption: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("installing archive: %w", err)
	}
	success = true
	return nil
}

// Open decrypts a sealed archive into destDir, verifying each file's
// BLAKE3 digest before writing it. Extracted files are read-only, the
// same posture registered evidence carries. Returns the archive
// manifest.
func Open(archivePath, destDir string, passphrase *secret.Buffer) (*Manifest, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	ident, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("deriving archive identity: %w", err)
	}
	reader, err := age.Decrypt(file, ident)
	if err != nil {
		return nil, fmt.Errorf("decrypting archive: %w", err)
	}
	inner, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	manifest, payloads, err := parseArchive(inner)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}

	offset := int64(0)
	for _, entry := range manifest.Files {
		if err := checkArchivePath(entry.Path); err != nil {
			return nil, err
		}
		if entry.CompressedSize < 0 || offset+entry.CompressedSize > int64(len(payloads)) {
			return nil, fmt.Errorf("archive truncated at %s", entry.Path)
		}
		payload := payloads[offset : offset+entry.CompressedSize]
		offset += entry.CompressedSize

		tag, err := parseCompressionTag(entry.Compression)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Path, err)
		}
		data, err := decompressChunk(payload, tag, int(entry.Size))
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", entry.Path, err)
		}

		digest := blake3.Sum256(data)
		if hex.EncodeToString(digest[:]) != entry.BLAKE3 {
			return nil, fmt.Errorf("digest mismatch for %s", entry.Path)
		}

		target := filepath.Join(destDir, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		// A previous extraction leaves read-only files that would block
		// the write. Callers gate re-extraction on the terminal.
		os.Remove(target)
		if err := os.WriteFile(target, data, 0o444); err != nil {
			return nil, fmt.Errorf("writing %s: %w", target, err)
		}
	}
	return manifest, nil
}

func parseArchive(inner []byte) (*Manifest, []byte, error) {
	header := len(sealMagic) + 1 + 4
	if len(inner) < header || !bytes.Equal(inner[:len(sealMagic)], sealMagic) {
		return nil, nil, fmt.Errorf("not a sealed evidence archive")
	}
	if version := inner[len(sealMagic)]; version != sealVersion {
		return nil, nil, fmt.Errorf("unsupported archive version %d", version)
	}
	manifestLen := int(binary.BigEndian.Uint32(inner[len(sealMagic)+1 : header]))
	if manifestLen > len(inner)-header {
		return nil, nil, fmt.Errorf("archive manifest truncated")
	}

	var manifest Manifest
	if err := json.Unmarshal(inner[header:header+manifestLen], &manifest); err != nil {
		return nil, nil, fmt.Errorf("decoding archive manifest: %w", err)
	}
	return &manifest, inner[header+manifestLen:], nil
}

// checkArchivePath rejects manifest paths that would escape the
// destination directory.
func checkArchivePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") {
		return fmt.Errorf("unsafe path %q in archive manifest", path)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return fmt.Errorf("unsafe path %q in archive manifest", path)
		}
	}
	return nil
}

// compressAuto probes the payload and compresses it with the selected
// algorithm, falling back to storing it raw when compression does not
// pay.
func compressAuto(data []byte) ([]byte, CompressionTag) {
	tag := selectCompression(data)
	if tag == CompressionNone {
		return data, CompressionNone
	}
	compressed, err := compressChunk(data, tag)
	if err != nil {
		return data, CompressionNone
	}
	return compressed, tag
}

// selectCompression probes with zstd: a ratio above 1.5x selects zstd,
// between 1.1x and 1.5x selects LZ4, below that the payload is stored
// raw.
func selectCompression(data []byte) CompressionTag {
	if len(data) == 0 {
		return CompressionNone
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

var errIncompressible = fmt.Errorf("data is incompressible")

func compressChunk(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}

func decompressChunk(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("raw chunk: size %d does not match expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}
