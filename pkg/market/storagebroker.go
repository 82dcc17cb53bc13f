package market

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// StorageBroker is the local chunk-custody agent: it accepts chunk upload
// requests over HTTP, verifies their hash, writes them atomically, and
// tracks capacity accounting in memory.
type StorageBroker struct {
	nodeID   string
	root     string
	capacity uint64

	mu     sync.Mutex
	used   uint64
	chunks map[string]chunkMeta

	log *logrus.Entry
}

// NewStorageBroker opens (creating if necessary) a storage-broker root with
// the given total capacity in bytes.
func NewStorageBroker(nodeID, root string, capacity uint64, log *logrus.Entry) (*StorageBroker, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "create storage broker root", err)
	}
	return &StorageBroker{
		nodeID:   nodeID,
		root:     root,
		capacity: capacity,
		chunks:   make(map[string]chunkMeta),
		log:      log.WithField("component", "storage_broker"),
	}, nil
}

func (b *StorageBroker) path(hash string) string { return filepath.Join(b.root, hash) }

// StoreChunk verifies req.ChunkHash == SHA256(req.ChunkData), rejects if
// capacity would be exceeded, writes the bytes atomically, updates
// accounting, and returns a storage proof.
func (b *StorageBroker) StoreChunk(req ChunkUploadRequest) (ChunkUploadResponse, error) {
	size := uint64(len(req.ChunkData))

	b.mu.Lock()
	if b.used+size > b.capacity {
		b.mu.Unlock()
		return ChunkUploadResponse{}, chiralerr.New(chiralerr.CapacityExceeded, "insufficient storage capacity")
	}
	b.mu.Unlock()

	sum := sha256.Sum256(req.ChunkData)
	if hex.EncodeToString(sum[:]) != req.ChunkHash {
		return ChunkUploadResponse{}, chiralerr.New(chiralerr.IntegrityError, "chunk hash verification failed")
	}

	tmp, err := os.CreateTemp(b.root, req.ChunkHash+".tmp.*")
	if err != nil {
		return ChunkUploadResponse{}, chiralerr.Wrap(chiralerr.Io, "create chunk temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(req.ChunkData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ChunkUploadResponse{}, chiralerr.Wrap(chiralerr.Io, "write chunk", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ChunkUploadResponse{}, chiralerr.Wrap(chiralerr.Io, "sync chunk", err)
	}
	tmp.Close()
	if err := os.Rename(tmpName, b.path(req.ChunkHash)); err != nil {
		os.Remove(tmpName)
		return ChunkUploadResponse{}, chiralerr.Wrap(chiralerr.Io, "rename chunk into place", err)
	}

	b.mu.Lock()
	b.chunks[req.ChunkHash] = chunkMeta{
		FileHash:   req.FileHash,
		ChunkIndex: req.ChunkIndex,
		Size:       size,
		StoredAt:   time.Now().UTC(),
	}
	b.used += size
	b.mu.Unlock()

	proof := generateStorageProof(req.ChunkHash, req.ChunkData, b.nodeID)

	b.log.WithFields(logrus.Fields{"chunk_hash": req.ChunkHash, "size": size}).Info("stored chunk")

	return ChunkUploadResponse{
		Success:      true,
		ChunkHash:    req.ChunkHash,
		Size:         int(size),
		StorageProof: proof,
		NodeID:       b.nodeID,
	}, nil
}

// RetrieveChunk reads back a chunk's bytes and increments its access count.
func (b *StorageBroker) RetrieveChunk(hash string) ([]byte, error) {
	data, err := os.ReadFile(b.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, chiralerr.Wrap(chiralerr.NotFound, "chunk not found", err)
		}
		return nil, chiralerr.Wrap(chiralerr.Io, "read chunk", err)
	}

	b.mu.Lock()
	if meta, ok := b.chunks[hash]; ok {
		meta.AccessCount++
		b.chunks[hash] = meta
	}
	b.mu.Unlock()

	return data, nil
}

// VerifyChunk re-reads a stored chunk and re-hashes it.
func (b *StorageBroker) VerifyChunk(hash string) (bool, error) {
	data, err := os.ReadFile(b.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, chiralerr.Wrap(chiralerr.Io, "read chunk for verification", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == hash, nil
}

// DeleteChunk removes a chunk from disk and decrements used capacity with
// saturating subtraction.
func (b *StorageBroker) DeleteChunk(hash string) error {
	b.mu.Lock()
	meta, known := b.chunks[hash]
	b.mu.Unlock()

	if err := os.Remove(b.path(hash)); err != nil {
		if os.IsNotExist(err) {
			return chiralerr.Wrap(chiralerr.NotFound, "chunk not found", err)
		}
		return chiralerr.Wrap(chiralerr.Io, "delete chunk", err)
	}

	b.mu.Lock()
	delete(b.chunks, hash)
	if known {
		if b.used >= meta.Size {
			b.used -= meta.Size
		} else {
			b.used = 0
		}
	}
	b.mu.Unlock()
	return nil
}

// ListChunks returns the hashes of every chunk currently stored.
func (b *StorageBroker) ListChunks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.chunks))
	for h := range b.chunks {
		out = append(out, h)
	}
	return out
}

// Stats reports the broker's current capacity accounting.
func (b *StorageBroker) Stats() StorageStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return StorageStats{
		NodeID:            b.nodeID,
		TotalCapacity:     b.capacity,
		UsedCapacity:      b.used,
		AvailableCapacity: b.capacity - b.used,
		StoredChunks:      uint64(len(b.chunks)),
		Uptime:            0.99,
		Reputation:        4.5,
	}
}

func generateStorageProof(chunkHash string, data []byte, nodeID string) string {
	h := sha256.New()
	h.Write([]byte(chunkHash))
	h.Write(data)
	h.Write([]byte(nodeID))
	return hex.EncodeToString(h.Sum(nil))
}
