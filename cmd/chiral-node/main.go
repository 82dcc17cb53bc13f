// Command chiral-node runs one peer of the chiral storage network: chunk
// ingest/reassembly, manifest indexing, Kademlia overlay membership, the
// storage market, and the reputation engine.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chiral-network/chiral-node/pkg/chunkstore"
	"github.com/chiral-network/chiral-node/pkg/config"
	"github.com/chiral-network/chiral-node/pkg/dhtnode"
	"github.com/chiral-network/chiral-node/pkg/identity"
	"github.com/chiral-network/chiral-node/pkg/manifest"
	"github.com/chiral-network/chiral-node/pkg/market"
	"github.com/chiral-network/chiral-node/pkg/reputation"
)

// node bundles every wired-up component a subcommand might need.
type node struct {
	cfg    *config.Config
	id     *identity.Identity
	chunks *chunkstore.Store
	mans   *manifest.Registry
	rep    *reputation.Engine
	log    *logrus.Entry
}

var n *node

func nodeInit(cmd *cobra.Command, _ []string) error {
	if n != nil {
		return nil
	}
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	lvl, err := logrus.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	log := logrus.NewEntry(logrus.StandardLogger())

	id, err := identity.LoadOrCreate(cfg.Identity.KeyPath)
	if err != nil {
		return err
	}

	store, err := chunkstore.NewStore(cfg.ChunkStore.Root, log)
	if err != nil {
		return err
	}
	if err := store.SweepOrphanedTemp(); err != nil {
		log.WithError(err).Warn("failed to sweep orphaned temp chunk files")
	}

	mans, err := manifest.NewRegistry(cfg.Manifests.Root)
	if err != nil {
		return err
	}

	// Issuer IDs are libp2p peer ID strings. Ed25519 public keys are small
	// enough that libp2p embeds them directly in the peer ID itself
	// ("identity" multihash), so no separate keystore lookup is needed to
	// recover the verifying key.
	lookup := func(issuerID string) (ed25519.PublicKey, bool) {
		pid, err := peer.Decode(issuerID)
		if err != nil {
			return nil, false
		}
		pub, err := pid.ExtractPublicKey()
		if err != nil || pub == nil {
			return nil, false
		}
		raw, err := pub.Raw()
		if err != nil {
			return nil, false
		}
		return ed25519.PublicKey(raw), true
	}
	repEngine, err := reputation.NewEngine(filepath.Join(cfg.Manifests.Root, "..", "reputation"), cfg.Reputation, lookup, log)
	if err != nil {
		return err
	}

	n = &node{cfg: cfg, id: id, chunks: store, mans: mans, rep: repEngine, log: log}
	return nil
}

func main() {
	root := &cobra.Command{Use: "chiral-node", PersistentPreRunE: nodeInit}
	root.AddCommand(serveCmd(), identityCmd(), publishCmd(), fetchCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the node: DHT overlay, storage broker HTTP API, mDNS discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			overlay, err := dhtnode.New(ctx, n.id, dhtnode.Config{
				ListenAddrs:    n.cfg.DHT.ListenAddrs,
				BootstrapAddrs: n.cfg.DHT.BootstrapAddrs,
				DiscoveryTag:   n.cfg.DHT.DiscoveryTag,
				AsBootstrap:    n.cfg.DHT.AsBootstrap,
			}, n.log)
			if err != nil {
				return err
			}

			storageBroker, err := market.NewStorageBroker(n.id.PeerID.String(), n.cfg.Market.StorageRoot, n.cfg.Market.StorageCapacity, n.log)
			if err != nil {
				return err
			}
			httpSrv := &http.Server{
				Addr:    n.cfg.Market.HTTPAddr,
				Handler: market.NewHTTPRouter(storageBroker, n.log),
			}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					n.log.WithError(err).Error("storage broker http server exited")
				}
			}()

			supplierBroker := market.NewBroker(n.log)
			supplierStop := make(chan struct{})
			go keepSupplierRegistrationsFresh(supplierBroker, supplierStop)
			defer close(supplierStop)

			go drainOverlayEvents(overlay, n.log)

			fmt.Fprintf(cmd.OutOrStdout(), "chiral-node %s listening, storage broker on %s\n", n.id.PeerID, n.cfg.Market.HTTPAddr)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpSrv.Shutdown(shutdownCtx)

			reply := make(chan struct{})
			overlay.Commands() <- dhtnode.Shutdown{Reply: reply}
			<-reply
			return nil
		},
	}
}

// supplierRefreshInterval is well under the market broker's 300s staleness
// cutoff so a long-running node's own entries never go stale between scans.
const supplierRefreshInterval = 60 * time.Second

// keepSupplierRegistrationsFresh registers this node as a file supplier for
// every manifest it holds locally, then repeats on a timer so the
// registrations' LastSeen never falls outside the broker's staleness
// cutoff. This is how spec.md's "the Market Broker records the local node
// as a supplier" step happens in practice: the broker only lives as long as
// the process serving it, so the long-running `serve` node is the one that
// populates it, not the one-shot `publish` command.
func keepSupplierRegistrationsFresh(broker *market.Broker, stop <-chan struct{}) {
	register := func() {
		hashes, err := n.mans.List()
		if err != nil {
			n.log.WithError(err).Warn("supplier registration: failed to list local manifests")
			return
		}
		for _, hash := range hashes {
			broker.RegisterFileSupplier(hash, market.FileSupplier{
				SupplierID: n.id.PeerID.String(),
				Endpoint:   n.cfg.Market.HTTPAddr,
			})
		}
		n.log.WithField("file_count", len(hashes)).Debug("refreshed local file supplier registrations")
	}

	register()
	ticker := time.NewTicker(supplierRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			register()
		}
	}
}

func drainOverlayEvents(overlay *dhtnode.Node, log *logrus.Entry) {
	for ev := range overlay.Events() {
		switch e := ev.(type) {
		case dhtnode.ErrorEvent:
			log.WithField("event", "error").Warn(e.Text)
		case dhtnode.PeerConnected:
			log.WithField("event", "peer_connected").Info(e.PeerID)
		case dhtnode.PeerDisconnected:
			log.WithField("event", "peer_disconnected").Info(e.PeerID)
		case dhtnode.FileDiscovered:
			log.WithField("event", "file_discovered").Info(e.Metadata.FileHash)
		case dhtnode.FileNotFound:
			log.WithField("event", "file_not_found").Info(e.FileHash)
		}
	}
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "identity"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print this node's peer ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), n.id.PeerID.String())
			return nil
		},
	})
	return cmd
}

// nodeFileKey derives a stand-in symmetric chunk key from the node's own
// identity. The real per-file key is expected to come from an external
// keystore; this CLI has none, so it uses one key for every file it
// publishes locally, stable across publish and fetch.
func nodeFileKey(id *identity.Identity) [32]byte {
	raw, err := id.Bytes()
	if err != nil {
		return sha256.Sum256([]byte(id.PeerID.String()))
	}
	return sha256.Sum256(raw)
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <path>",
		Short: "ingest a file, index its manifest, and advertise it on the DHT overlay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			key := nodeFileKey(n.id)

			ctx := context.Background()
			m, err := n.chunks.Ingest(ctx, path, key, n.cfg.ChunkStore.ChunkSize)
			if err != nil {
				return err
			}
			if err := n.mans.Store(m); err != nil {
				return err
			}

			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			if err := advertiseOnDHT(ctx, m, info.Size()); err != nil {
				n.log.WithError(err).Warn("publish: dht advertise failed, manifest is stored locally only")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s as %s (%d bytes, %d chunks), key=%s\n",
				path, m.FileHash, info.Size(), len(m.Chunks), hex.EncodeToString(key[:]))
			return nil
		},
	}
}

// advertiseOnDHT joins the overlay just long enough to put this file's
// metadata record under its hash, then leaves. Market supplier registration
// is not done here: the market broker is an in-memory, process-local
// registry (pkg/market.Broker), so an instance populated by this one-shot
// command would vanish the moment the process exits. The long-running
// `serve` node owns the live broker and registers every locally ingested
// file as a supplier entry at startup and on a refresh timer.
func advertiseOnDHT(ctx context.Context, m *manifest.Manifest, fileSize int64) error {
	overlay, err := dhtnode.New(ctx, n.id, dhtnode.Config{
		ListenAddrs:    n.cfg.DHT.ListenAddrs,
		BootstrapAddrs: n.cfg.DHT.BootstrapAddrs,
		DiscoveryTag:   n.cfg.DHT.DiscoveryTag,
		AsBootstrap:    n.cfg.DHT.AsBootstrap,
	}, n.log)
	if err != nil {
		return err
	}
	go drainOverlayEvents(overlay, n.log)

	overlay.Commands() <- dhtnode.PublishFile{Metadata: dhtnode.FileMetadata{
		FileHash:  m.FileHash,
		FileName:  m.FileName,
		FileSize:  uint64(fileSize),
		Seeders:   []string{n.id.PeerID.String()},
		CreatedAt: m.CreatedAt.Unix(),
	}}

	// GetPeerCount rides the same single-consumer command channel as
	// PublishFile; since the overlay task processes commands in order, its
	// reply only arrives once PublishFile has already been applied.
	peerCountReply := make(chan int, 1)
	overlay.Commands() <- dhtnode.GetPeerCount{Reply: peerCountReply}
	<-peerCountReply

	shutdownReply := make(chan struct{})
	overlay.Commands() <- dhtnode.Shutdown{Reply: shutdownReply}
	<-shutdownReply
	return nil
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <hash>",
		Short: "reassemble a previously published file by its hash, if its manifest is known locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileHash := args[0]
			m, err := n.mans.Load(fileHash)
			if err != nil {
				return err
			}
			dest := fileHash + ".out"
			key := nodeFileKey(n.id)
			if err := n.chunks.Reassemble(context.Background(), m, dest, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reassembled %s -> %s\n", fileHash, dest)
			return nil
		},
	}
}
