package chunkstore

import (
	"encoding/hex"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// LogCID renders a chunk's plaintext hash as a CIDv1 (raw codec,
// SHA-256 multihash) purely for operator-facing log lines (SaveAtomic's
// "stored chunk" entry); it is never the chunk's canonical identity. The
// canonical identity throughout this store, including the files/ mirror,
// remains the plain hex SHA-256.
func LogCID(plaintextHash string) (string, error) {
	raw, err := hex.DecodeString(plaintextHash)
	if err != nil {
		return "", chiralerr.Wrap(chiralerr.InvalidInput, "decode hash for cid mirror", err)
	}
	mh, err := multihash.Encode(raw, multihash.SHA2_256)
	if err != nil {
		return "", chiralerr.Wrap(chiralerr.InvalidInput, "encode multihash", err)
	}
	c := cid.NewCidV1(cid.Raw, mh)
	return c.String(), nil
}
