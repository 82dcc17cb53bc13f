package dhtnode

import (
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// blockedLiterals holds addresses known to be unreachable or otherwise
// unsuitable for routing-table insertion, regardless of their private/
// public classification.
var blockedLiterals = map[string]bool{
	"176.183.245.3": true,
}

// acceptAddress reports whether addr may be added to the routing table. It
// always rejects a blocklisted literal; when asBootstrap is true (the local
// node is configured as a bootstrap node) it additionally rejects private,
// loopback, and link-local addresses, since a bootstrap node's routing
// table must only hold globally reachable peers.
func acceptAddress(addr multiaddr.Multiaddr, asBootstrap bool) bool {
	ip, err := manet.ToIP(addr)
	if err != nil {
		return true
	}
	if blockedLiterals[ip.String()] {
		return false
	}
	if !asBootstrap {
		return true
	}
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast())
}
