package chunkstore

import (
	"github.com/klauspost/compress/zstd"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

const (
	compressionNone byte = 0
	compressionZstd byte = 1
)

// zstdEncoder/zstdDecoder are created once with a nil io.Writer/io.Reader,
// the documented pattern for using only their EncodeAll/DecodeAll methods;
// both are safe for concurrent use across ingest/reassemble workers.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compressPlaintext zstd-compresses data and reports the frame compression
// tag to store alongside it. Compression is only applied when it actually
// shrinks the chunk; incompressible data falls back to the uncompressed
// tag 0 path, which remains the default for every chunk that doesn't
// benefit.
func compressPlaintext(data []byte) ([]byte, byte) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) < len(data) {
		return compressed, compressionZstd
	}
	return data, compressionNone
}

// decompressPayload reverses compressPlaintext given a frame's stored
// compression tag.
func decompressPayload(data []byte, compressionType byte) ([]byte, error) {
	switch compressionType {
	case compressionNone:
		return data, nil
	case compressionZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, chiralerr.Wrap(chiralerr.IntegrityError, "zstd decompress chunk", err)
		}
		return out, nil
	default:
		return nil, chiralerr.New(chiralerr.IntegrityError, "unknown chunk compression type")
	}
}
