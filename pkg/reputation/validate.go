package reputation

import (
	"crypto/ed25519"
	"time"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// PublicKeyLookup resolves an issuer ID to the public key that must have
// signed the verdict.
type PublicKeyLookup func(issuerID string) (ed25519.PublicKey, bool)

// Validate checks a verdict against the structural and signature
// invariants. All failures here are local, soft failures: the caller drops
// the verdict and logs the cause, per the engine's error-handling design.
func Validate(v Verdict, lookup PublicKeyLookup) error {
	if v.IssuerID == "" || v.TargetID == "" {
		return chiralerr.New(chiralerr.InvalidInput, "issuer_id and target_id must be non-empty")
	}
	if v.IssuerID == v.TargetID {
		return chiralerr.New(chiralerr.InvalidInput, "issuer cannot submit a verdict about itself")
	}
	if len(v.Details) > MaxDetailsSize {
		return chiralerr.New(chiralerr.InvalidInput, "verdict details exceed 1 KiB")
	}
	if !v.Outcome.valid() {
		return chiralerr.New(chiralerr.InvalidInput, "invalid verdict outcome")
	}

	pub, ok := lookup(v.IssuerID)
	if !ok {
		return chiralerr.New(chiralerr.SignatureError, "unknown issuer public key")
	}
	if !v.VerifySignature(pub) {
		return chiralerr.New(chiralerr.SignatureError, "verdict signature does not verify")
	}
	return nil
}

// AddVerdict validates and inserts v into r, deduping by
// (issuer_id, issuer_seq_no). A duplicate is a soft failure: the record is
// left unchanged and DuplicateVerdict is returned for the caller to log.
func AddVerdict(r *Record, v Verdict, lookup PublicKeyLookup) error {
	if err := Validate(v, lookup); err != nil {
		return err
	}
	for _, existing := range r.Verdicts {
		if existing.IssuerID == v.IssuerID && existing.IssuerSeqNo == v.IssuerSeqNo {
			return chiralerr.New(chiralerr.DuplicateVerdict, "verdict already recorded for this issuer sequence number")
		}
	}
	r.Verdicts = append(r.Verdicts, v)
	r.LastUpdated = time.Now().UTC()
	return nil
}
