package dhtnode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
	"github.com/chiral-network/chiral-node/pkg/identity"
)

const (
	kadProtocolPrefix = "/chiral"
	identifyProtocol  = "/chiral/1.0.0"
	replicationFactor = 20
	queryTimeout      = 30 * time.Second
	maxRecordValue    = 8 * 1024
	idleConnTimeout   = 300 * time.Second
)

// Config carries the tunables of one overlay instance.
type Config struct {
	ListenAddrs    []string
	BootstrapAddrs []string
	DiscoveryTag   string
	AsBootstrap    bool
}

// Node owns a libp2p host, a Kademlia DHT, and a gossip pubsub instance. It
// is the sole mutator of overlay state; callers interact exclusively
// through Commands and Events.
type Node struct {
	host   host.Host
	kad    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	log    *logrus.Entry
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	commands chan Command
	events   chan Event

	mu                  sync.Mutex
	connected           map[peer.ID]struct{}
	lastBootstrap       time.Time
	lastPeerEvent       time.Time
	lastError           string
	lastErrorAt         time.Time
	bootstrapFailures   uint64
	consecutiveFailures uint64
	listenAddrs         []string
}

// New constructs and starts an overlay node bound to id.
func New(ctx context.Context, id *identity.Identity, cfg Config, log *logrus.Entry) (*Node, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	nodeCtx, cancel := context.WithCancel(ctx)

	cm, err := connmgr.NewConnManager(minPeerCountForBootstrap, replicationFactor*4,
		connmgr.WithGracePeriod(idleConnTimeout))
	if err != nil {
		cancel()
		return nil, chiralerr.Wrap(chiralerr.PeerUnreachable, "create connection manager", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(id.Priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.ProtocolVersion(identifyProtocol),
		libp2p.ConnectionManager(cm),
		libp2p.EnableNATService(),
	)
	if err != nil {
		cancel()
		return nil, chiralerr.Wrap(chiralerr.PeerUnreachable, "create libp2p host", err)
	}

	kad, err := dht.New(nodeCtx, h,
		dht.Mode(dht.ModeServer),
		dht.ProtocolPrefix(kadProtocolPrefix),
		dht.BucketSize(replicationFactor),
		dht.NamespacedValidator(namespace, NamespacedValidator{}),
	)
	if err != nil {
		h.Close()
		cancel()
		return nil, chiralerr.Wrap(chiralerr.DhtQueryFailed, "create kademlia dht", err)
	}

	ps, err := pubsub.NewGossipSub(nodeCtx, h)
	if err != nil {
		kad.Close()
		h.Close()
		cancel()
		return nil, chiralerr.Wrap(chiralerr.PeerUnreachable, "create gossipsub", err)
	}

	n := &Node{
		host:      h,
		kad:       kad,
		pubsub:    ps,
		log:       log.WithField("component", "dhtnode"),
		cfg:       cfg,
		ctx:       nodeCtx,
		cancel:    cancel,
		commands:  make(chan Command, channelCapacity),
		events:    make(chan Event, channelCapacity),
		connected: make(map[peer.ID]struct{}),
	}

	h.Network().Notify(n.notifiee())
	n.subscribeIdentify()

	if _, err := mdns.NewMdnsService(h, cfg.DiscoveryTag, n.mdnsNotifee()).Start(); err != nil {
		n.log.WithError(err).Warn("mdns discovery unavailable")
	}

	initialSuccess := n.dialBootstrapOnce()
	if len(cfg.BootstrapAddrs) > 0 && !initialSuccess {
		n.mu.Lock()
		n.consecutiveFailures = 1
		n.mu.Unlock()
		n.log.Warn("no bootstrap connections succeeded; backing off before retry")
	}

	go n.run()
	return n, nil
}

// Commands returns the channel callers send Commands on.
func (n *Node) Commands() chan<- Command { return n.commands }

// Events returns the channel callers receive Events from.
func (n *Node) Events() <-chan Event { return n.events }

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.log.Warn("event channel full; dropping event")
	}
}

func (n *Node) dialBootstrapOnce() bool {
	success := false
	for _, addr := range n.cfg.BootstrapAddrs {
		info, err := parseAddrInfo(addr)
		if err != nil {
			n.recordError(fmt.Sprintf("invalid bootstrap address %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *info); err != nil {
			n.recordConnectionError(fmt.Sprintf("dial bootstrap %s: %v", addr, err), err)
			continue
		}
		success = true
	}
	if success {
		n.kad.Bootstrap(n.ctx)
		n.mu.Lock()
		n.lastBootstrap = time.Now()
		n.mu.Unlock()
	}
	return success
}

func parseAddrInfo(s string) (*peer.AddrInfo, error) {
	maddr, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(maddr)
}

// run is the single task owning overlay state: it services the command
// channel and the periodic bootstrap timer until Shutdown or channel
// closure.
func (n *Node) run() {
	ticker := time.NewTicker(baseBootstrapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.drainOnShutdown(nil)
			return

		case cmd, ok := <-n.commands:
			if !ok {
				n.log.Info("command channel closed; shutting down overlay task")
				n.drainOnShutdown(nil)
				return
			}
			if shutdownReply, done := n.handleCommand(cmd); done {
				n.drainOnShutdown(shutdownReply)
				return
			}

		case <-ticker.C:
			n.maybeBootstrap()
		}
	}
}

func (n *Node) handleCommand(cmd Command) (reply chan struct{}, shuttingDown bool) {
	switch c := cmd.(type) {
	case Shutdown:
		return c.Reply, true
	case PublishFile:
		n.publishFile(c.Metadata)
	case SearchFile:
		n.searchFile(c.FileHash)
	case ConnectPeer:
		n.connectPeer(c.Addr)
	case GetPeerCount:
		n.mu.Lock()
		count := len(n.connected)
		n.mu.Unlock()
		select {
		case c.Reply <- count:
		default:
		}
	}
	return nil, false
}

func (n *Node) drainOnShutdown(reply chan struct{}) {
	// Discard any commands still queued behind the shutdown trigger.
	for drained := false; !drained; {
		select {
		case _, ok := <-n.commands:
			drained = !ok
		default:
			drained = true
		}
	}
	n.mu.Lock()
	n.connected = make(map[peer.ID]struct{})
	n.mu.Unlock()
	n.kad.Close()
	n.host.Close()
	n.log.Info("overlay task exited")
	if reply != nil {
		close(reply)
	}
}

func (n *Node) maybeBootstrap() {
	n.mu.Lock()
	peerCount := len(n.connected)
	failures := n.consecutiveFailures
	last := n.lastBootstrap
	n.mu.Unlock()

	if !shouldBootstrap(peerCount, failures, last, time.Now()) {
		return
	}
	n.kad.Bootstrap(n.ctx)
	n.mu.Lock()
	n.lastBootstrap = time.Now()
	n.mu.Unlock()
}

// publishFile encodes metadata as the DHT value under the raw file-hash
// bytes as key; quorum of one (single-writer publication). Failures are
// surfaced as Error events and never retried inside the task.
func (n *Node) publishFile(meta FileMetadata) {
	body, err := json.Marshal(meta)
	if err != nil {
		n.emit(ErrorEvent{Text: fmt.Sprintf("failed to serialize metadata: %v", err)})
		return
	}
	if len(body) > maxRecordValue {
		n.emit(ErrorEvent{Text: fmt.Sprintf("metadata for %s exceeds max record size", meta.FileHash)})
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, queryTimeout)
	defer cancel()
	if err := n.kad.PutValue(ctx, namespacedKey(meta.FileHash), body); err != nil {
		n.recordError(fmt.Sprintf("publish %s: %v", meta.FileHash, err))
		n.emit(ErrorEvent{Text: fmt.Sprintf("failed to publish: %v", err)})
		return
	}
	n.log.WithField("file_hash", meta.FileHash).Info("published file metadata")
}

// searchFile issues a get_record query and emits FileDiscovered or
// FileNotFound depending on the outcome. A record that does not decode as
// file metadata is logged and emits neither event.
func (n *Node) searchFile(fileHash string) {
	ctx, cancel := context.WithTimeout(n.ctx, queryTimeout)
	defer cancel()
	body, err := n.kad.GetValue(ctx, namespacedKey(fileHash))
	if err != nil {
		n.emit(FileNotFound{FileHash: fileHash})
		return
	}
	var meta FileMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		n.log.WithError(err).Debug("received non-file-metadata record")
		return
	}
	n.emit(FileDiscovered{Metadata: meta})
}

func (n *Node) connectPeer(addr string) {
	info, err := parseAddrInfo(addr)
	if err != nil {
		n.emit(ErrorEvent{Text: fmt.Sprintf("invalid address: %s", addr)})
		return
	}
	if err := n.host.Connect(n.ctx, *info); err != nil {
		n.recordConnectionError(fmt.Sprintf("connect %s: %v", addr, err), err)
		n.emit(ErrorEvent{Text: fmt.Sprintf("failed to connect: %v", err)})
	}
}

func (n *Node) recordError(msg string) {
	n.mu.Lock()
	n.lastError = msg
	n.lastErrorAt = time.Now()
	n.bootstrapFailures++
	n.consecutiveFailures++
	n.mu.Unlock()
	n.log.Warn(msg)
}

// connectionErrorHint classifies an outgoing dial failure by substring,
// surfacing the same operator-facing hints as the reference implementation.
func connectionErrorHint(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rsa"):
		return "this node uses RSA keys; enable the rsa feature if needed"
	case strings.Contains(msg, "Timeout"):
		return "bootstrap nodes may be unreachable or overloaded"
	case strings.Contains(msg, "Connection refused"):
		return "bootstrap nodes are not accepting connections"
	case strings.Contains(msg, "Transport"):
		return "transport protocol negotiation failed"
	default:
		return ""
	}
}

// recordConnectionError is recordError specialized for outgoing dial
// failures: it carries the same last_error/last_error_at/bootstrap_failures/
// consecutive_bootstrap_failures bookkeeping, plus a classified hint line
// when the dial error matches a known substring.
func (n *Node) recordConnectionError(msg string, dialErr error) {
	n.recordError(msg)
	if hint := connectionErrorHint(dialErr); hint != "" {
		n.log.Warn(hint)
	}
}

// notifiee wires libp2p connection lifecycle into the routing table and
// peer set. Outgoing dial failures are classified separately, at their
// call sites in dialBootstrapOnce/connectPeer, since go-libp2p surfaces
// them as a Connect error return rather than a Notifiee callback.
func (n *Node) notifiee() *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			pid := c.RemotePeer()
			n.kad.RoutingTable().TryAddPeer(pid, false, true)
			n.mu.Lock()
			n.connected[pid] = struct{}{}
			n.consecutiveFailures = 0
			n.lastPeerEvent = time.Now()
			n.mu.Unlock()
			n.emit(PeerConnected{PeerID: pid.String()})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			pid := c.RemotePeer()
			n.mu.Lock()
			delete(n.connected, pid)
			n.lastPeerEvent = time.Now()
			n.mu.Unlock()
			n.emit(PeerDisconnected{PeerID: pid.String()})
		},
	}
}

// subscribeIdentify watches the event bus for completed peer identification
// and inserts identified addresses into the routing table only after
// address sanitation.
func (n *Node) subscribeIdentify() {
	sub, err := n.host.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		n.log.WithError(err).Warn("cannot subscribe to identify events; address sanitation disabled")
		return
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-n.ctx.Done():
				return
			case raw, ok := <-sub.Out():
				if !ok {
					return
				}
				evt := raw.(event.EvtPeerIdentificationCompleted)
				for _, addr := range evt.ListenAddrs {
					if acceptAddress(addr, n.cfg.AsBootstrap) {
						n.host.Peerstore().AddAddr(evt.Peer, addr, time.Hour)
					}
				}
			}
		}
	}()
}

func (n *Node) mdnsNotifee() mdns.Notifee { return mdnsNotifee{n} }

type mdnsNotifee struct{ n *Node }

// HandlePeerFound connects to peers discovered via local mDNS broadcast,
// skipping self-discovery and peers already connected.
func (m mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	n := m.n
	if info.ID == n.host.ID() {
		return
	}
	n.mu.Lock()
	_, exists := n.connected[info.ID]
	n.mu.Unlock()
	if exists {
		return
	}
	n.emit(PeerDiscovered{PeerID: info.ID.String()})
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.WithError(err).WithField("peer", info.ID.String()).Warn("failed to connect to mdns-discovered peer")
	}
}

// Metrics returns a snapshot of the overlay's operator-visible health.
func (n *Node) Metrics() MetricsSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	snap := MetricsSnapshot{
		PeerCount:         len(n.connected),
		BootstrapFailures: n.bootstrapFailures,
		ListenAddrs:       append([]string(nil), n.listenAddrs...),
	}
	if !n.lastBootstrap.IsZero() {
		t := n.lastBootstrap.Unix()
		snap.LastBootstrap = &t
	}
	if !n.lastPeerEvent.IsZero() {
		t := n.lastPeerEvent.Unix()
		snap.LastPeerEvent = &t
	}
	if n.lastError != "" {
		e := n.lastError
		snap.LastError = &e
	}
	if !n.lastErrorAt.IsZero() {
		t := n.lastErrorAt.Unix()
		snap.LastErrorAt = &t
	}
	for _, a := range n.host.Addrs() {
		snap.ListenAddrs = append(snap.ListenAddrs, a.String())
	}
	return snap
}

// PeerID returns the node's own peer identity string.
func (n *Node) PeerID() string { return n.host.ID().String() }
