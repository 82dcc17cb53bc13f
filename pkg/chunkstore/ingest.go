package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
	"github.com/chiral-network/chiral-node/pkg/manifest"
)

// ingestWorkers bounds the number of chunks hashed/encrypted/written
// concurrently during Ingest, so a large file does not spawn unbounded
// goroutines against the filesystem.
const ingestWorkers = 8

// Ingest streams path into chunkSize blocks (DefaultChunkSize if <= 0),
// encrypts each under key with AES-256-GCM, writes any chunk not already
// present, and returns the resulting manifest. A zero-length file yields an
// empty chunk list.
func (s *Store) Ingest(ctx context.Context, path string, key [32]byte, chunkSize int64) (*manifest.Manifest, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "open source file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "stat source file", err)
	}
	fileSize := info.Size()

	fileHash, err := hashStream(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "rewind source file", err)
	}

	fileHashBytes, err := decodeHexHash(fileHash)
	if err != nil {
		return nil, err
	}

	var totalChunks int
	if fileSize > 0 {
		totalChunks = int((fileSize + chunkSize - 1) / chunkSize)
	}

	entries := make([]manifest.ChunkEntry, totalChunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestWorkers)

	var offset int64
	for idx := 0; idx < totalChunks; idx++ {
		idx := idx
		buf := make([]byte, chunkSize)
		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return nil, chiralerr.Wrap(chiralerr.Io, "read source chunk", readErr)
		}
		data := buf[:n]
		curOffset := offset
		offset += int64(n)

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			entry, err := s.ingestOneChunk(fileHashBytes, key, uint32(idx), uint32(totalChunks), data, curOffset)
			if err != nil {
				return err
			}
			entries[idx] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &manifest.Manifest{
		FileHash:  fileHash,
		FileName:  filepath.Base(path),
		FileSize:  fileSize,
		ChunkSize: chunkSize,
		Chunks:    entries,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.Finalize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ingestOneChunk(fileHash, key [32]byte, index, total uint32, plaintext []byte, offset int64) (manifest.ChunkEntry, error) {
	sum := sha256.Sum256(plaintext)
	plaintextHash := hex.EncodeToString(sum[:])

	if s.Exists(plaintextHash) {
		frame, err := s.Load(plaintextHash)
		if err != nil {
			return manifest.ChunkEntry{}, err
		}
		_, _, ciphertext, err := decodeFrame(frame)
		if err != nil {
			return manifest.ChunkEntry{}, err
		}
		return manifest.ChunkEntry{
			Index:          int(index),
			PlaintextHash:  plaintextHash,
			PlaintextSize:  int64(len(plaintext)),
			CiphertextSize: int64(len(ciphertext)),
			Offset:         offset,
		}, nil
	}

	compressed, compressionType := compressPlaintext(plaintext)

	ciphertext, iv, err := encryptChunk(key, compressed)
	if err != nil {
		return manifest.ChunkEntry{}, err
	}

	var chunkHashBytes [32]byte
	copy(chunkHashBytes[:], sum[:])

	header := Header{
		ChunkIndex:  index,
		TotalChunks: total,
		FileHash:    fileHash,
		ChunkHash:   chunkHashBytes,
	}
	meta := Metadata{
		IV:              iv,
		CompressionType: compressionType,
		OriginalSize:    uint64(len(plaintext)),
		CompressedSize:  uint64(len(compressed)),
		Timestamp:       uint64(time.Now().Unix()),
	}
	frame := encodeFrame(header, meta, ciphertext)

	if err := s.SaveAtomic(plaintextHash, frame); err != nil {
		return manifest.ChunkEntry{}, err
	}

	return manifest.ChunkEntry{
		Index:          int(index),
		PlaintextHash:  plaintextHash,
		PlaintextSize:  int64(len(plaintext)),
		CiphertextSize: int64(len(ciphertext)),
		Offset:         offset,
	}, nil
}

func hashStream(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, 1024*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", chiralerr.Wrap(chiralerr.Io, "hash source file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func decodeHexHash(h string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != 32 {
		return out, chiralerr.New(chiralerr.InvalidInput, "malformed file hash")
	}
	copy(out[:], b)
	return out, nil
}
