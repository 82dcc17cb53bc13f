package dhtnode

import (
	"errors"
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func TestBackoffIntervalGrowsAndCaps(t *testing.T) {
	cases := []struct {
		failures uint64
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 300 * time.Second},
		{5, 300 * time.Second},
		{100, 300 * time.Second},
	}
	for _, c := range cases {
		require.Equal(t, c.want, backoffInterval(c.failures), "failures=%d", c.failures)
	}
}

func TestBackoffIntervalNeverExceeds300Seconds(t *testing.T) {
	for f := uint64(0); f < 20; f++ {
		require.LessOrEqual(t, backoffInterval(f), maxBootstrapInterval)
	}
}

func TestShouldBootstrapPredicates(t *testing.T) {
	now := time.Now()

	require.True(t, shouldBootstrap(0, 0, time.Time{}, now), "no prior attempt, few peers, no failures")
	require.False(t, shouldBootstrap(2, 0, time.Time{}, now), "enough peers already")
	require.False(t, shouldBootstrap(0, maxConsecutiveFailures, time.Time{}, now), "too many consecutive failures")
	require.False(t, shouldBootstrap(0, 0, now.Add(-5*time.Second), now), "too soon since last attempt")
	require.True(t, shouldBootstrap(0, 0, now.Add(-31*time.Second), now), "enough time elapsed")

	// with one failure, backoff is 60s: 31s since last attempt is not enough
	require.False(t, shouldBootstrap(0, 1, now.Add(-31*time.Second), now))
	require.True(t, shouldBootstrap(0, 1, now.Add(-61*time.Second), now))
}

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestAcceptAddressBlocksKnownProblematicLiteral(t *testing.T) {
	addr := mustAddr(t, "/ip4/176.183.245.3/tcp/4001")
	require.False(t, acceptAddress(addr, false))
	require.False(t, acceptAddress(addr, true))
}

func TestAcceptAddressFiltersPrivateOnlyForBootstrap(t *testing.T) {
	addr := mustAddr(t, "/ip4/192.168.1.10/tcp/4001")
	require.True(t, acceptAddress(addr, false), "non-bootstrap nodes accept private peers")
	require.False(t, acceptAddress(addr, true), "bootstrap nodes reject private peers")
}

func TestAcceptAddressFiltersLoopbackAndLinkLocalForBootstrap(t *testing.T) {
	loopback := mustAddr(t, "/ip4/127.0.0.1/tcp/4001")
	linkLocal := mustAddr(t, "/ip4/169.254.1.1/tcp/4001")
	require.False(t, acceptAddress(loopback, true))
	require.False(t, acceptAddress(linkLocal, true))
}

func TestAcceptAddressAllowsPublicForBootstrap(t *testing.T) {
	addr := mustAddr(t, "/ip4/8.8.8.8/tcp/4001")
	require.True(t, acceptAddress(addr, true))
}

func TestNamespacedKeyRoundTrip(t *testing.T) {
	raw := "deadbeef"
	ns := namespacedKey(raw)
	require.Equal(t, "/chiral/deadbeef", ns)
	require.Equal(t, raw, stripNamespace(ns))
}

func TestNamespacedValidatorAcceptsKnownShapesOnly(t *testing.T) {
	v := NamespacedValidator{}

	fileRecord := []byte(`{"file_hash":"abc","file_name":"x","file_size":1,"seeders":[],"created_at":1}`)
	require.NoError(t, v.Validate(namespacedKey("abc"), fileRecord))

	repRecord := []byte(`{"target_id":"peer-1","verdicts":[],"last_updated":"2024-01-01T00:00:00Z"}`)
	require.NoError(t, v.Validate(namespacedKey("peer-1"), repRecord))

	require.Error(t, v.Validate(namespacedKey("junk"), []byte(`{"unrelated":true}`)))
}

func TestConnectionErrorHintClassifiesKnownSubstrings(t *testing.T) {
	require.Contains(t, connectionErrorHint(errors.New("dial tcp: i/o timeout: Timeout")), "unreachable or overloaded")
	require.Contains(t, connectionErrorHint(errors.New("dial tcp: Connection refused")), "not accepting connections")
	require.Contains(t, connectionErrorHint(errors.New("Transport negotiation failed")), "negotiation failed")
	require.Contains(t, connectionErrorHint(errors.New("rsa key rejected")), "RSA keys")
	require.Empty(t, connectionErrorHint(errors.New("some other failure")))
}

func TestNamespacedValidatorSelectPicksNewestFileRecord(t *testing.T) {
	v := NamespacedValidator{}
	older := []byte(`{"file_hash":"abc","created_at":100}`)
	newer := []byte(`{"file_hash":"abc","created_at":200}`)
	idx, err := v.Select(namespacedKey("abc"), [][]byte{older, newer})
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}
