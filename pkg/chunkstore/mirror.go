package chunkstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// Mirror is the optional, non-authoritative "simple transfer" store: a
// plain copy of small files under files/<hash>, indexed by files/metadata.
// It exists for the non-chunked small-file transfer path and must never be
// used to serve files published through the chunked Ingest/Reassemble path
// (see SPEC_FULL.md's Open Question 1 resolution).
type Mirror struct {
	root string
	mu   sync.Mutex
}

type mirrorEntry struct {
	Hash      string    `json:"hash"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	StoredAt  time.Time `json:"stored_at"`
}

// NewMirror opens (creating if necessary) a simple-transfer mirror rooted
// at root (typically <data_root>/files).
func NewMirror(root string) (*Mirror, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "create mirror directory", err)
	}
	return &Mirror{root: root}, nil
}

func (m *Mirror) indexPath() string { return filepath.Join(m.root, "metadata.json") }

func (m *Mirror) readIndex() (map[string]mirrorEntry, error) {
	idx := map[string]mirrorEntry{}
	body, err := os.ReadFile(m.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, chiralerr.Wrap(chiralerr.Io, "read mirror index", err)
	}
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, chiralerr.Wrap(chiralerr.IntegrityError, "decode mirror index", err)
	}
	return idx, nil
}

func (m *Mirror) writeIndex(idx map[string]mirrorEntry) error {
	body, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return chiralerr.Wrap(chiralerr.InvalidInput, "marshal mirror index", err)
	}
	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return chiralerr.Wrap(chiralerr.Io, "write mirror index", err)
	}
	return chiralerr.Wrap(chiralerr.Io, "rename mirror index", os.Rename(tmp, m.indexPath()))
}

// Put copies data into the mirror under hash, recording name for later
// listing.
func (m *Mirror) Put(hash, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.WriteFile(filepath.Join(m.root, hash), data, 0o644); err != nil {
		return chiralerr.Wrap(chiralerr.Io, "write mirror file", err)
	}
	idx, err := m.readIndex()
	if err != nil {
		return err
	}
	idx[hash] = mirrorEntry{Hash: hash, Name: name, Size: int64(len(data)), StoredAt: time.Now().UTC()}
	return m.writeIndex(idx)
}

// Get reads back a mirrored file's bytes.
func (m *Mirror) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(m.root, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, chiralerr.Wrap(chiralerr.NotFound, "mirror file not found", err)
		}
		return nil, chiralerr.Wrap(chiralerr.Io, "read mirror file", err)
	}
	return data, nil
}
