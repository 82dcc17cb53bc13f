package chunkstore

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// Store is the sharded, content-addressed, atomic on-disk chunk store.
type Store struct {
	root string
	log  *logrus.Entry
}

// NewStore opens (creating if necessary) a chunk store rooted at root.
func NewStore(root string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "create chunk store root", err)
	}
	return &Store{root: root, log: log.WithField("component", "chunkstore")}, nil
}

// shardDir bounds directory size by the first two hex characters of hash.
func (s *Store) shardDir(hash string) string {
	if len(hash) < 2 {
		return s.root
	}
	return filepath.Join(s.root, hash[:2])
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.shardDir(hash), hash)
}

// Exists reports whether a frame is already stored under hash.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Load reads the raw frame bytes stored under hash.
func (s *Store) Load(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, chiralerr.Wrap(chiralerr.NotFound, "chunk not found: "+hash, err)
		}
		return nil, chiralerr.Wrap(chiralerr.Io, "read chunk", err)
	}
	return data, nil
}

// SaveAtomic writes frame under hash via a unique temp file, fsync, an
// exclusive advisory lock, and an atomic rename. A frame already present
// under hash is left untouched: write-time dedup.
func (s *Store) SaveAtomic(hash string, frame []byte) error {
	dir := s.shardDir(hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return chiralerr.Wrap(chiralerr.Io, "create shard directory", err)
	}
	final := s.path(hash)
	if s.Exists(hash) {
		return nil
	}

	tmp, err := os.CreateTemp(dir, hash+".tmp.*")
	if err != nil {
		return chiralerr.Wrap(chiralerr.Io, "create chunk temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if err := unix.Flock(int(tmp.Fd()), unix.LOCK_EX); err != nil {
		tmp.Close()
		return chiralerr.Wrap(chiralerr.Io, "lock chunk temp file", err)
	}

	if _, err := tmp.Write(frame); err != nil {
		unix.Flock(int(tmp.Fd()), unix.LOCK_UN)
		tmp.Close()
		return chiralerr.Wrap(chiralerr.Io, "write chunk frame", err)
	}
	if err := tmp.Sync(); err != nil {
		unix.Flock(int(tmp.Fd()), unix.LOCK_UN)
		tmp.Close()
		return chiralerr.Wrap(chiralerr.Io, "sync chunk frame", err)
	}
	if err := unix.Flock(int(tmp.Fd()), unix.LOCK_UN); err != nil {
		tmp.Close()
		return chiralerr.Wrap(chiralerr.Io, "unlock chunk temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return chiralerr.Wrap(chiralerr.Io, "close chunk temp file", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		return chiralerr.Wrap(chiralerr.Io, "rename chunk into place", err)
	}
	entry := s.log.WithField("hash", hash)
	if c, err := LogCID(hash); err == nil {
		entry = entry.WithField("cid", c)
	}
	entry.Debug("stored chunk")
	return nil
}

// Delete removes a stored chunk.
func (s *Store) Delete(hash string) error {
	if err := os.Remove(s.path(hash)); err != nil {
		if os.IsNotExist(err) {
			return chiralerr.Wrap(chiralerr.NotFound, "chunk not found: "+hash, err)
		}
		return chiralerr.Wrap(chiralerr.Io, "delete chunk", err)
	}
	return nil
}

// SweepOrphanedTemp removes stray .tmp files left by a crash between write
// and rename: a tmp file whose sibling final file already exists is
// discardable; one without a sibling is also safe to discard, since its
// writer never completed the rename and the manifest never referenced it.
func (s *Store) SweepOrphanedTemp() error {
	return filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == "" {
			return nil
		}
		base := filepath.Base(path)
		if !isTempChunkName(base) {
			return nil
		}
		return os.Remove(path)
	})
}

func isTempChunkName(name string) bool {
	for i := 0; i+5 <= len(name); i++ {
		if name[i:i+5] == ".tmp." {
			return true
		}
	}
	return false
}
