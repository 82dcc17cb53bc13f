package reputation

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

func newSignedVerdict(t *testing.T, priv ed25519.PrivateKey, issuer, target string, seq uint64, issuedAt int64, outcome Outcome) Verdict {
	t.Helper()
	v := Verdict{
		TargetID:    target,
		Outcome:     outcome,
		IssuedAt:    issuedAt,
		IssuerID:    issuer,
		IssuerSeqNo: seq,
	}
	require.NoError(t, v.Sign(priv))
	return v
}

func TestVerdictSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	v := newSignedVerdict(t, priv, "issuer-1", "target-1", 1, 1000, Good)
	require.True(t, v.VerifySignature(pub))

	v.Outcome = Bad
	require.False(t, v.VerifySignature(pub))
}

func TestAddVerdictDedupesByIssuerAndSeq(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	lookup := func(id string) (ed25519.PublicKey, bool) {
		if id == "issuer-1" {
			return pub, true
		}
		return nil, false
	}

	r := &Record{TargetID: "target-1"}
	v1 := newSignedVerdict(t, priv, "issuer-1", "target-1", 1, 1000, Good)
	require.NoError(t, AddVerdict(r, v1, lookup))
	require.Len(t, r.Verdicts, 1)

	dup := newSignedVerdict(t, priv, "issuer-1", "target-1", 1, 2000, Bad)
	err = AddVerdict(r, dup, lookup)
	require.Error(t, err)
	require.True(t, chiralerr.Is(err, chiralerr.DuplicateVerdict))
	require.Len(t, r.Verdicts, 1, "duplicate must not grow the verdict set")

	v2 := newSignedVerdict(t, priv, "issuer-1", "target-1", 2, 2000, Bad)
	require.NoError(t, AddVerdict(r, v2, lookup))
	require.Len(t, r.Verdicts, 2)
}

func TestAddVerdictRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	lookup := func(id string) (ed25519.PublicKey, bool) { return pub, true }

	r := &Record{TargetID: "target-1"}
	v := newSignedVerdict(t, otherPriv, "issuer-1", "target-1", 1, 1000, Good)
	err = AddVerdict(r, v, lookup)
	require.Error(t, err)
	require.True(t, chiralerr.Is(err, chiralerr.SignatureError))
}

func TestAddVerdictRejectsSelfIssuedAndOversizedDetails(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	lookup := func(id string) (ed25519.PublicKey, bool) { return priv.Public().(ed25519.PublicKey), true }

	r := &Record{TargetID: "peer-1"}
	selfVerdict := newSignedVerdict(t, priv, "peer-1", "peer-1", 1, 1000, Good)
	require.Error(t, AddVerdict(r, selfVerdict, lookup))

	big := Verdict{
		TargetID: "peer-1",
		IssuerID: "issuer-1",
		Outcome:  Good,
		IssuedAt: 1000,
		Details:  string(make([]byte, MaxDetailsSize+1)),
	}
	require.NoError(t, big.Sign(priv))
	require.Error(t, AddVerdict(r, big, lookup))
}

func TestScoreMonotonicityReplacingBadWithGood(t *testing.T) {
	now := time.Unix(10000, 0).UTC()
	bad := []Verdict{
		{TargetID: "p", Outcome: Good, IssuedAt: 1000},
		{TargetID: "p", Outcome: Bad, IssuedAt: 1000},
	}
	good := []Verdict{
		{TargetID: "p", Outcome: Good, IssuedAt: 1000},
		{TargetID: "p", Outcome: Good, IssuedAt: 1000},
	}
	require.Less(t, Score(bad, now, 0), Score(good, now, 0))
}

func TestTrustLevelBandingBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  TrustLevel
	}{
		{0.95, Trusted},
		{0.8, Trusted},
		{0.79, High},
		{0.6, High},
		{0.59, Medium},
		{0.4, Medium},
		{0.39, Low},
		{0.2, Low},
		{0.1, UnknownTrust},
	}
	for _, c := range cases {
		require.Equal(t, c.want, TrustLevelOf(c.score), "score %v", c.score)
	}
}

// TestScenarioThreeVerdictsNoDecay reproduces the documented scenario: three
// verdicts for one peer at issued_at 1000/2000/3000 with outcomes
// good/good/bad and half_life disabled, expecting score ~= 0.6667 and trust
// level High.
func TestScenarioThreeVerdictsNoDecay(t *testing.T) {
	verdicts := []Verdict{
		{TargetID: "p1", Outcome: Good, IssuedAt: 1000},
		{TargetID: "p1", Outcome: Good, IssuedAt: 2000},
		{TargetID: "p1", Outcome: Bad, IssuedAt: 3000},
	}
	score := Score(verdicts, time.Unix(4000, 0).UTC(), 0)
	require.InDelta(t, 0.6667, score, 0.001)
	require.Equal(t, High, TrustLevelOf(score))
}

func TestCountBad(t *testing.T) {
	verdicts := []Verdict{
		{Outcome: Good}, {Outcome: Bad}, {Outcome: Disputed}, {Outcome: Bad},
	}
	require.Equal(t, 2, CountBad(verdicts))
}

func TestScoreCacheTTLExpiry(t *testing.T) {
	c := NewScoreCache(10 * time.Millisecond)
	c.Set("peer-1", 0.9, Trusted)
	_, ok := c.Get("peer-1")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("peer-1")
	require.False(t, ok, "entry should have expired")
}

func TestBlacklistManualModeNeverAutoBlacklists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlacklistMode = ModeManual
	cfg.BlacklistAutoEnabled = false
	b := NewBlacklistManager(cfg)

	b.AddManual("peer-1", "manual review", "")
	require.True(t, b.IsBlacklisted("peer-1"))

	added := b.MaybeAutoBlacklist("peer-2", 0.01, 10)
	require.False(t, added, "manual mode must never auto-blacklist")
	require.False(t, b.IsBlacklisted("peer-2"))
}

func TestBlacklistAutoTriggerOnLowScoreOrBadCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlacklistMode = ModeHybrid
	cfg.BlacklistAutoEnabled = true
	cfg.BlacklistScoreThreshold = 0.2
	cfg.BlacklistBadVerdicts = 3
	b := NewBlacklistManager(cfg)

	require.True(t, b.MaybeAutoBlacklist("peer-low-score", 0.1, 0))
	require.True(t, b.IsBlacklisted("peer-low-score"))

	require.True(t, b.MaybeAutoBlacklist("peer-many-bad", 0.9, 3))
	require.True(t, b.IsBlacklisted("peer-many-bad"))

	require.False(t, b.MaybeAutoBlacklist("peer-fine", 0.9, 0))
	require.False(t, b.IsBlacklisted("peer-fine"))
}

func TestBlacklistCleanupExpiredPrunesOnlyAutomatic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlacklistRetention = 0
	b := NewBlacklistManager(cfg)

	b.AddManual("manual-peer", "reason", "")
	b.entries["auto-peer"] = BlacklistEntry{
		PeerID:        "auto-peer",
		BlacklistedAt: time.Now().Add(-time.Hour),
		IsAutomatic:   true,
	}

	removed := b.CleanupExpired()
	require.Equal(t, 1, removed)
	require.True(t, b.IsBlacklisted("manual-peer"))
	require.False(t, b.IsBlacklisted("auto-peer"))
}

func TestEngineSubmitVerdictPersistsAndScores(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	lookup := func(id string) (ed25519.PublicKey, bool) {
		if id == "issuer-1" {
			return pub, true
		}
		return nil, false
	}

	cfg := DefaultConfig()
	cfg.BlacklistAutoEnabled = true
	cfg.BlacklistMode = ModeHybrid
	cfg.BlacklistBadVerdicts = 1
	engine, err := NewEngine(t.TempDir(), cfg, lookup, nil)
	require.NoError(t, err)

	v := newSignedVerdict(t, priv, "issuer-1", "peer-1", 1, time.Now().Unix(), Bad)
	require.NoError(t, engine.SubmitVerdict(v))

	score, trust := engine.PeerScore("peer-1")
	require.Equal(t, 0.0, score)
	require.Equal(t, UnknownTrust, trust)
	require.True(t, engine.Blacklist().IsBlacklisted("peer-1"), "single bad verdict should cross the configured bad-count threshold")

	dup := newSignedVerdict(t, priv, "issuer-1", "peer-1", 1, time.Now().Unix(), Good)
	err = engine.SubmitVerdict(dup)
	require.Error(t, err)
	require.True(t, chiralerr.Is(err, chiralerr.DuplicateVerdict))
}

func TestDHTKeyIsDeterministicAndDistinct(t *testing.T) {
	k1 := DHTKey("peer-1")
	k2 := DHTKey("peer-1")
	k3 := DHTKey("peer-2")
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Len(t, k1, 64)
}
