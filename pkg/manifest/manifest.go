// Package manifest persists and verifies per-file manifests: the record
// binding a file hash to its ordered, content-addressed chunk list.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// ChunkEntry describes one chunk's position within a file.
type ChunkEntry struct {
	Index          int    `json:"chunk_index"`
	PlaintextHash  string `json:"plaintext_hash"`
	PlaintextSize  int64  `json:"plaintext_size"`
	CiphertextSize int64  `json:"ciphertext_size"`
	Offset         int64  `json:"offset"`
}

// EncryptionDescriptor names the algorithm and, optionally, a wrapped key
// bundle for a recipient public key. The wrapped-key bundle is opaque here;
// wrapping/unwrapping is the keystore's responsibility, which sits outside
// this core.
type EncryptionDescriptor struct {
	Algorithm    string `json:"algorithm"`
	WrappedKey   string `json:"wrapped_key,omitempty"`
	RecipientKey string `json:"recipient_key,omitempty"`
}

// Manifest binds a file hash to its ordered chunk list and integrity
// metadata. ManifestHash is self-referential: it is computed over the
// manifest with this field blanked.
type Manifest struct {
	FileHash     string                 `json:"file_hash"`
	FileName     string                 `json:"file_name"`
	FileSize     int64                  `json:"file_size"`
	MimeType     string                 `json:"mime_type,omitempty"`
	ChunkSize    int64                  `json:"chunk_size"`
	Chunks       []ChunkEntry           `json:"chunks"`
	Encryption   *EncryptionDescriptor  `json:"encryption,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	ManifestHash string                 `json:"manifest_hash"`
}

// ComputeHash recomputes the self-referential manifest hash: the hex
// SHA-256 of the manifest's canonical JSON with ManifestHash cleared.
func (m *Manifest) ComputeHash() (string, error) {
	clone := *m
	clone.ManifestHash = ""
	body, err := json.Marshal(&clone)
	if err != nil {
		return "", chiralerr.Wrap(chiralerr.InvalidInput, "marshal manifest for hashing", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// Finalize sets ManifestHash from the manifest's current contents.
func (m *Manifest) Finalize() error {
	h, err := m.ComputeHash()
	if err != nil {
		return err
	}
	m.ManifestHash = h
	return nil
}

// Verify reports whether the stored ManifestHash matches a fresh
// recomputation, and whether the chunk size accounting is internally
// consistent.
func (m *Manifest) Verify() error {
	want, err := m.ComputeHash()
	if err != nil {
		return err
	}
	if want != m.ManifestHash {
		return chiralerr.New(chiralerr.IntegrityError, "manifest hash mismatch")
	}
	var total int64
	for _, c := range m.Chunks {
		total += c.PlaintextSize
	}
	if total != m.FileSize {
		return chiralerr.New(chiralerr.IntegrityError, "chunk size total does not match file size")
	}
	return nil
}

// Registry persists manifests under <root>/<file_hash>.json.
type Registry struct {
	root string
}

// NewRegistry opens (and creates if absent) a manifest directory.
func NewRegistry(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "create manifest directory", err)
	}
	return &Registry{root: root}, nil
}

func (r *Registry) path(fileHash string) string {
	return filepath.Join(r.root, fileHash+".json")
}

// Store writes m atomically (tmp file + rename) keyed by its file hash.
func (r *Registry) Store(m *Manifest) error {
	if m.ManifestHash == "" {
		if err := m.Finalize(); err != nil {
			return err
		}
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return chiralerr.Wrap(chiralerr.InvalidInput, "marshal manifest", err)
	}
	final := r.path(m.FileHash)
	tmp, err := os.CreateTemp(r.root, m.FileHash+".tmp.*")
	if err != nil {
		return chiralerr.Wrap(chiralerr.Io, "create manifest temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chiralerr.Wrap(chiralerr.Io, "write manifest temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chiralerr.Wrap(chiralerr.Io, "sync manifest temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return chiralerr.Wrap(chiralerr.Io, "close manifest temp file", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return chiralerr.Wrap(chiralerr.Io, "rename manifest into place", err)
	}
	return nil
}

// Load reads and integrity-checks the manifest for fileHash.
func (r *Registry) Load(fileHash string) (*Manifest, error) {
	body, err := os.ReadFile(r.path(fileHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, chiralerr.Wrap(chiralerr.NotFound, "manifest not found", err)
		}
		return nil, chiralerr.Wrap(chiralerr.Io, "read manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, chiralerr.Wrap(chiralerr.IntegrityError, "decode manifest", err)
	}
	if err := m.Verify(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ChunkExistenceChecker is satisfied by a chunk store: it lets MissingChunks
// avoid importing the chunkstore package directly and creating a cycle.
type ChunkExistenceChecker interface {
	Exists(hash string) bool
}

// MissingChunks returns the plaintext hashes from m.Chunks that checker does
// not have on disk.
func MissingChunks(m *Manifest, checker ChunkExistenceChecker) []string {
	var missing []string
	for _, c := range m.Chunks {
		if !checker.Exists(c.PlaintextHash) {
			missing = append(missing, c.PlaintextHash)
		}
	}
	return missing
}

// Stats aggregates counts and byte totals across a set of manifests.
type Stats struct {
	ManifestCount int   `json:"manifest_count"`
	ChunkCount    int   `json:"chunk_count"`
	TotalBytes    int64 `json:"total_bytes"`
}

// ComputeStats folds a slice of manifests into aggregate Stats.
func ComputeStats(manifests []*Manifest) Stats {
	var s Stats
	s.ManifestCount = len(manifests)
	for _, m := range manifests {
		s.ChunkCount += len(m.Chunks)
		s.TotalBytes += m.FileSize
	}
	return s
}

// List enumerates the file hashes with a stored manifest.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "list manifest directory", err)
	}
	var hashes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		hashes = append(hashes, strings.TrimSuffix(name, ".json"))
	}
	return hashes, nil
}
