package reputation

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// signableVerdict is the canonical, key-ordered form a verdict's signature
// covers: target_id, tx_hash, outcome, details, metric, issued_at,
// issuer_id, issuer_seq_no, tx_receipt, evidence_blobs. The signature field
// itself is excluded.
type signableVerdict struct {
	TargetID      string   `json:"target_id"`
	TxHash        string   `json:"tx_hash"`
	Outcome       Outcome  `json:"outcome"`
	Details       string   `json:"details"`
	Metric        float64  `json:"metric"`
	IssuedAt      int64    `json:"issued_at"`
	IssuerID      string   `json:"issuer_id"`
	IssuerSeqNo   uint64   `json:"issuer_seq_no"`
	TxReceipt     string   `json:"tx_receipt"`
	EvidenceBlobs []string `json:"evidence_blobs"`
}

func (v Verdict) signableBytes() ([]byte, error) {
	s := signableVerdict{
		TargetID:      v.TargetID,
		TxHash:        v.TxHash,
		Outcome:       v.Outcome,
		Details:       v.Details,
		Metric:        v.Metric,
		IssuedAt:      v.IssuedAt,
		IssuerID:      v.IssuerID,
		IssuerSeqNo:   v.IssuerSeqNo,
		TxReceipt:     v.TxReceipt,
		EvidenceBlobs: v.EvidenceBlobs,
	}
	body, err := json.Marshal(s)
	if err != nil {
		return nil, chiralerr.Wrap(chiralerr.InvalidInput, "marshal signable verdict", err)
	}
	return body, nil
}

// Sign computes IssuerSig over the verdict's canonical signable form.
func (v *Verdict) Sign(priv ed25519.PrivateKey) error {
	body, err := v.signableBytes()
	if err != nil {
		return err
	}
	sig := ed25519.Sign(priv, body)
	v.IssuerSig = hex.EncodeToString(sig)
	return nil
}

// VerifySignature checks IssuerSig against pub.
func (v Verdict) VerifySignature(pub ed25519.PublicKey) bool {
	sig, err := hex.DecodeString(v.IssuerSig)
	if err != nil {
		return false
	}
	body, err := v.signableBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, body, sig)
}

// SignTransactionMessage signs the from/to/amount/file_hash/nonce/deadline
// tuple a downloader and supplier exchange before a chunk transfer.
func SignTransactionMessage(msg TransactionMessage, priv ed25519.PrivateKey) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", chiralerr.Wrap(chiralerr.InvalidInput, "marshal transaction message", err)
	}
	return hex.EncodeToString(ed25519.Sign(priv, body)), nil
}

// VerifyTransactionMessage checks a hex Ed25519 signature over msg.
func VerifyTransactionMessage(msg TransactionMessage, pub ed25519.PublicKey, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, chiralerr.Wrap(chiralerr.InvalidInput, "decode transaction signature", err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return false, chiralerr.Wrap(chiralerr.InvalidInput, "marshal transaction message", err)
	}
	return ed25519.Verify(pub, body, sig), nil
}
