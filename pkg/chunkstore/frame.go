package chunkstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// Magic identifies a chunk frame on disk.
var Magic = [4]byte{0x43, 0x48, 0x4E, 0x4B} // "CHNK"

const (
	// Version is the only frame version this store writes or accepts.
	Version uint16 = 1

	// DefaultChunkSize is the default block size used by Ingest (256 KiB).
	DefaultChunkSize int64 = 256 * 1024

	// headerSize is the size in bytes of the fixed-field header: magic(4) +
	// version(2) + chunk_index(4) + total_chunks(4) + file_hash(32) +
	// chunk_hash(32).
	headerSize = 4 + 2 + 4 + 4 + 32 + 32

	// metadataSize is the fixed, zero-padded size of the metadata block
	// that follows the header.
	metadataSize = 256

	// ChecksumSize is the trailing SHA-256 checksum size.
	ChecksumSize = 32

	// minFrameSize is the smallest legal frame: header + metadata + an
	// empty ciphertext + checksum.
	minFrameSize = headerSize + metadataSize + ChecksumSize
)

// Header is the fixed 78-byte frame header.
type Header struct {
	ChunkIndex  uint32
	TotalChunks uint32
	FileHash    [32]byte
	ChunkHash   [32]byte
}

// Metadata is the fixed, 256-byte zero-padded metadata block.
type Metadata struct {
	// IV holds the AEAD nonce in its first 12 bytes; the trailing 4 are
	// reserved and always zero.
	IV              [16]byte
	CompressionType byte
	OriginalSize    uint64
	CompressedSize  uint64
	Timestamp       uint64
}

// Nonce returns the 96-bit AES-GCM nonce embedded in the metadata's IV.
func (m Metadata) Nonce() []byte {
	return m.IV[:12]
}

// encodeFrame lays out header + metadata + ciphertext + checksum per the
// on-disk frame format.
func encodeFrame(h Header, m Metadata, ciphertext []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(minFrameSize + len(ciphertext))

	buf.Write(Magic[:])
	writeUint16(&buf, Version)
	writeUint32(&buf, h.ChunkIndex)
	writeUint32(&buf, h.TotalChunks)
	buf.Write(h.FileHash[:])
	buf.Write(h.ChunkHash[:])

	metaStart := buf.Len()
	buf.Write(m.IV[:])
	buf.WriteByte(m.CompressionType)
	writeUint64(&buf, m.OriginalSize)
	writeUint64(&buf, m.CompressedSize)
	writeUint64(&buf, m.Timestamp)
	for buf.Len() < metaStart+metadataSize {
		buf.WriteByte(0)
	}

	buf.Write(ciphertext)

	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])

	return buf.Bytes()
}

// decodeFrame parses a frame previously produced by encodeFrame.
func decodeFrame(data []byte) (Header, Metadata, []byte, error) {
	var h Header
	var m Metadata

	if len(data) < minFrameSize {
		return h, m, nil, chiralerr.New(chiralerr.IntegrityError, "frame shorter than minimum size")
	}
	if !bytes.Equal(data[0:4], Magic[:]) {
		return h, m, nil, chiralerr.New(chiralerr.IntegrityError, "bad frame magic")
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != Version {
		return h, m, nil, chiralerr.New(chiralerr.IntegrityError, "unsupported frame version")
	}

	h.ChunkIndex = binary.LittleEndian.Uint32(data[6:10])
	h.TotalChunks = binary.LittleEndian.Uint32(data[10:14])
	copy(h.FileHash[:], data[14:46])
	copy(h.ChunkHash[:], data[46:78])

	metaStart := headerSize
	copy(m.IV[:], data[metaStart:metaStart+16])
	m.CompressionType = data[metaStart+16]
	m.OriginalSize = binary.LittleEndian.Uint64(data[metaStart+17 : metaStart+25])
	m.CompressedSize = binary.LittleEndian.Uint64(data[metaStart+25 : metaStart+33])
	m.Timestamp = binary.LittleEndian.Uint64(data[metaStart+33 : metaStart+41])

	ciphertextStart := headerSize + metadataSize
	ciphertextEnd := len(data) - ChecksumSize
	if ciphertextEnd < ciphertextStart {
		return h, m, nil, chiralerr.New(chiralerr.IntegrityError, "frame too short for declared layout")
	}

	ciphertext := make([]byte, ciphertextEnd-ciphertextStart)
	copy(ciphertext, data[ciphertextStart:ciphertextEnd])

	return h, m, ciphertext, nil
}

// Validate reports whether the trailing checksum matches a fresh SHA-256 of
// everything preceding it.
func Validate(frame []byte) bool {
	if len(frame) < minFrameSize {
		return false
	}
	body := frame[:len(frame)-ChecksumSize]
	want := frame[len(frame)-ChecksumSize:]
	got := sha256.Sum256(body)
	return bytes.Equal(got[:], want)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}
