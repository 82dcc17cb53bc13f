package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chiral-network/chiral-node/pkg/identity"
)

func TestNodeFileKeyIsStableForSameIdentity(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	k1 := nodeFileKey(id)
	k2 := nodeFileKey(id)
	require.Equal(t, k1, k2)
}

func TestNodeFileKeyDiffersAcrossIdentities(t *testing.T) {
	a, err := identity.Generate()
	require.NoError(t, err)
	b, err := identity.Generate()
	require.NoError(t, err)

	require.NotEqual(t, nodeFileKey(a), nodeFileKey(b))
}
