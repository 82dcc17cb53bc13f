package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
	"github.com/chiral-network/chiral-node/pkg/manifest"
)

// reassembleWorkers bounds concurrent chunk load+decrypt work; the final
// write to destination is always sequential and lock-protected.
const reassembleWorkers = 8

// Reassemble verifies m, loads and decrypts its chunks in index order, and
// streams the plaintext to destination under an exclusive file lock. After
// the final chunk it verifies the running SHA-256 of the output equals
// m.FileHash.
func (s *Store) Reassemble(ctx context.Context, m *manifest.Manifest, destination string, key [32]byte) error {
	if err := m.Verify(); err != nil {
		return err
	}

	chunks := make([]manifest.ChunkEntry, len(m.Chunks))
	copy(chunks, m.Chunks)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	plaintexts := make([][]byte, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reassembleWorkers)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			pt, err := s.loadAndDecryptChunk(c, key)
			if err != nil {
				return err
			}
			plaintexts[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return chiralerr.Wrap(chiralerr.Io, "create destination file", err)
	}
	defer out.Close()

	if err := unix.Flock(int(out.Fd()), unix.LOCK_EX); err != nil {
		return chiralerr.Wrap(chiralerr.Io, "lock destination file", err)
	}
	defer unix.Flock(int(out.Fd()), unix.LOCK_UN)

	runningHash := sha256.New()
	for _, pt := range plaintexts {
		if _, err := out.Write(pt); err != nil {
			return chiralerr.Wrap(chiralerr.Io, "write reassembled output", err)
		}
		runningHash.Write(pt)
	}

	if err := out.Sync(); err != nil {
		return chiralerr.Wrap(chiralerr.Io, "sync reassembled output", err)
	}

	gotHash := hex.EncodeToString(runningHash.Sum(nil))
	if gotHash != m.FileHash {
		return chiralerr.New(chiralerr.IntegrityError, "reassembled file hash mismatch")
	}
	return nil
}

func (s *Store) loadAndDecryptChunk(c manifest.ChunkEntry, key [32]byte) ([]byte, error) {
	frame, err := s.Load(c.PlaintextHash)
	if err != nil {
		return nil, err
	}
	if !Validate(frame) {
		return nil, chiralerr.New(chiralerr.IntegrityError, "chunk checksum mismatch: "+c.PlaintextHash)
	}
	_, meta, ciphertext, err := decodeFrame(frame)
	if err != nil {
		return nil, err
	}
	decrypted, err := decryptChunk(key, ciphertext, meta.IV)
	if err != nil {
		return nil, err
	}
	plaintext, err := decompressPayload(decrypted, meta.CompressionType)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(plaintext)
	if hex.EncodeToString(sum[:]) != c.PlaintextHash {
		return nil, chiralerr.New(chiralerr.IntegrityError, "decrypted plaintext hash mismatch: "+c.PlaintextHash)
	}
	if int64(len(plaintext)) != c.PlaintextSize {
		return nil, chiralerr.New(chiralerr.IntegrityError, "decrypted plaintext size mismatch: "+c.PlaintextHash)
	}
	return plaintext, nil
}
