package chunkstore

import (
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// encryptChunk seals plaintext under key with a freshly generated 96-bit
// nonce, returning the ciphertext (including the GCM tag) and the 16-byte
// IV field (12 nonce bytes followed by 4 reserved zero bytes).
func encryptChunk(key [32]byte, plaintext []byte) ([]byte, [16]byte, error) {
	var iv [16]byte

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, iv, chiralerr.Wrap(chiralerr.CryptoError, "init aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, iv, chiralerr.Wrap(chiralerr.CryptoError, "init gcm", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := cryptorand.Read(nonce); err != nil {
		return nil, iv, chiralerr.Wrap(chiralerr.CryptoError, "generate nonce", err)
	}
	copy(iv[:12], nonce)

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, iv, nil
}

// decryptChunk opens ciphertext under key using the nonce embedded in iv.
func decryptChunk(key [32]byte, ciphertext []byte, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.CryptoError, "init aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.CryptoError, "init gcm", err)
	}
	plaintext, err := gcm.Open(nil, iv[:12], ciphertext, nil)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.CryptoError, "decrypt chunk", err)
	}
	return plaintext, nil
}
