// Package identity derives peer identities for the chiral node from Ed25519
// keypairs, sharing the libp2p key representation so the DHT layer and the
// reputation engine agree on one notion of a peer.
package identity

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"encoding/hex"
	"io"
	"os"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// Identity is a peer's Ed25519 keypair plus its derived peer ID.
type Identity struct {
	Priv   libp2pcrypto.PrivKey
	Pub    libp2pcrypto.PubKey
	PeerID peer.ID
}

// Generate produces a fresh, randomly seeded identity.
func Generate() (*Identity, error) {
	return fromReader(cryptorand.Reader)
}

// FromSeed derives a deterministic identity from a 32-byte seed, used for
// bootstrap nodes and tests that need a stable peer ID across runs.
func FromSeed(seed [32]byte) (*Identity, error) {
	edPriv := ed25519.NewKeyFromSeed(seed[:])
	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(edPriv)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.CryptoError, "unmarshal seeded key", err)
	}
	return fromPriv(priv)
}

func fromReader(r io.Reader) (*Identity, error) {
	priv, _, err := libp2pcrypto.GenerateEd25519Key(r)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.CryptoError, "generate ed25519 key", err)
	}
	return fromPriv(priv)
}

func fromPriv(priv libp2pcrypto.PrivKey) (*Identity, error) {
	pub := priv.GetPublic()
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.CryptoError, "derive peer id", err)
	}
	return &Identity{Priv: priv, Pub: pub, PeerID: pid}, nil
}

// String renders the peer ID the way operators expect to see it logged.
func (id *Identity) String() string {
	return id.PeerID.String()
}

// Bytes returns the public key in libp2p's protobuf-marshaled encoding
// (crypto.MarshalPublicKey), not the bare 32-byte Ed25519 key.
func (id *Identity) Bytes() ([]byte, error) {
	return libp2pcrypto.MarshalPublicKey(id.Pub)
}

// Hex renders the public key as a hex string, a convenient on-disk and
// log-line form.
func (id *Identity) Hex() (string, error) {
	b, err := id.Bytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LoadOrCreate reads a marshaled private key from path, or generates and
// persists a fresh one if the file does not exist.
func LoadOrCreate(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		priv, err := libp2pcrypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, chiralerr.Wrap(chiralerr.CryptoError, "unmarshal stored key", err)
		}
		return fromPriv(priv)
	}
	if !os.IsNotExist(err) {
		return nil, chiralerr.Wrap(chiralerr.Io, "read identity file", err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	raw, err = libp2pcrypto.MarshalPrivateKey(id.Priv)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.CryptoError, "marshal generated key", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "persist identity file", err)
	}
	return id, nil
}
