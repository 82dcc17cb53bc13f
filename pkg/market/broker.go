package market

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Broker holds the in-memory registry of storage nodes and file suppliers.
// All mutation happens under a short-held mutex; no I/O occurs while the
// lock is held.
type Broker struct {
	mu        sync.RWMutex
	nodes     map[string]StorageNode
	suppliers map[string][]FileSupplier
	log       *logrus.Entry
}

// NewBroker constructs an empty registry.
func NewBroker(log *logrus.Entry) *Broker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broker{
		nodes:     make(map[string]StorageNode),
		suppliers: make(map[string][]FileSupplier),
		log:       log.WithField("component", "market"),
	}
}

// RegisterStorageNode inserts or refreshes a storage node entry.
func (b *Broker) RegisterStorageNode(node StorageNode) {
	if node.LastSeen.IsZero() {
		node.LastSeen = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[node.NodeID] = node
}

// QueryStorageNodes returns up to replication nodes seen within the
// staleness cutoff with available >= size, uptime > 0.9, and reputation >
// 3.0, sorted by price ascending and reputation descending. If fewer than
// replication nodes qualify, it logs a warning and returns what it has.
func (b *Broker) QueryStorageNodes(size uint64, replication int) []StorageNode {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Now().Add(-stalenessCutoff)
	var matches []StorageNode
	for _, n := range b.nodes {
		if n.LastSeen.After(cutoff) && n.Available >= size && n.UptimeFrac > minUptime && n.Reputation > minReputation {
			matches = append(matches, n)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].PricePerUnit != matches[j].PricePerUnit {
			return matches[i].PricePerUnit < matches[j].PricePerUnit
		}
		return matches[i].Reputation > matches[j].Reputation
	})

	if len(matches) > replication {
		matches = matches[:replication]
	}
	if len(matches) < replication {
		b.log.WithFields(logrus.Fields{
			"wanted": replication,
			"found":  len(matches),
			"size":   size,
		}).Warn("fewer qualifying storage nodes than requested replication")
	}
	return matches
}

// RegisterFileSupplier appends a supplier entry for fileHash; it never
// replaces existing entries.
func (b *Broker) RegisterFileSupplier(fileHash string, supplier FileSupplier) {
	if supplier.LastSeen.IsZero() {
		supplier.LastSeen = time.Now().UTC()
	}
	supplier.FileHash = fileHash

	b.mu.Lock()
	defer b.mu.Unlock()
	b.suppliers[fileHash] = append(b.suppliers[fileHash], supplier)
}

// LookupFileSuppliers returns suppliers for fileHash seen within the
// staleness cutoff, sorted by price ascending then reputation descending.
// It never errors on an empty result; it returns an empty slice.
func (b *Broker) LookupFileSuppliers(fileHash string) []FileSupplier {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Now().Add(-stalenessCutoff)
	var live []FileSupplier
	for _, s := range b.suppliers[fileHash] {
		if s.LastSeen.After(cutoff) {
			live = append(live, s)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].Price != live[j].Price {
			return live[i].Price < live[j].Price
		}
		return live[i].Reputation > live[j].Reputation
	})
	return live
}

// MarketStats summarizes the registry's current size.
func (b *Broker) MarketStats() MarketStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, v := range b.suppliers {
		total += len(v)
	}
	return MarketStats{
		StorageNodeCount: len(b.nodes),
		FileHashCount:    len(b.suppliers),
		SupplierCount:    total,
	}
}
