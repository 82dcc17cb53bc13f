package market

import (
	"testing"
	"time"
)

func TestQueryStorageNodesFiltersAndSorts(t *testing.T) {
	b := NewBroker(nil)
	b.RegisterStorageNode(StorageNode{NodeID: "cheap-bad-uptime", Available: 100, UptimeFrac: 0.5, Reputation: 4.0, PricePerUnit: 1.0})
	b.RegisterStorageNode(StorageNode{NodeID: "too-small", Available: 10, UptimeFrac: 0.95, Reputation: 4.0, PricePerUnit: 1.0})
	b.RegisterStorageNode(StorageNode{NodeID: "low-rep", Available: 100, UptimeFrac: 0.95, Reputation: 2.0, PricePerUnit: 1.0})
	b.RegisterStorageNode(StorageNode{NodeID: "expensive", Available: 100, UptimeFrac: 0.95, Reputation: 4.5, PricePerUnit: 2.0})
	b.RegisterStorageNode(StorageNode{NodeID: "cheap", Available: 100, UptimeFrac: 0.95, Reputation: 4.5, PricePerUnit: 1.0})

	nodes := b.QueryStorageNodes(50, 2)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(nodes))
	}
	if nodes[0].NodeID != "cheap" {
		t.Fatalf("expected cheapest node first, got %s", nodes[0].NodeID)
	}
	if nodes[1].NodeID != "expensive" {
		t.Fatalf("expected second node to be the only remaining match, got %s", nodes[1].NodeID)
	}
}

func TestQueryStorageNodesReturnsFewerThanReplicationWithoutError(t *testing.T) {
	b := NewBroker(nil)
	b.RegisterStorageNode(StorageNode{NodeID: "only-one", Available: 100, UptimeFrac: 0.95, Reputation: 4.0, PricePerUnit: 1.0})

	nodes := b.QueryStorageNodes(50, 5)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 match, got %d", len(nodes))
	}
}

func TestLookupFileSuppliersFiltersStaleEntries(t *testing.T) {
	b := NewBroker(nil)
	b.RegisterFileSupplier("filehash", FileSupplier{SupplierID: "fresh", Price: 2.0, Reputation: 1.0, LastSeen: time.Now()})
	b.RegisterFileSupplier("filehash", FileSupplier{SupplierID: "stale", Price: 1.0, Reputation: 5.0, LastSeen: time.Now().Add(-10 * time.Minute)})

	suppliers := b.LookupFileSuppliers("filehash")
	if len(suppliers) != 1 {
		t.Fatalf("expected 1 live supplier, got %d", len(suppliers))
	}
	if suppliers[0].SupplierID != "fresh" {
		t.Fatalf("expected the fresh supplier to survive, got %s", suppliers[0].SupplierID)
	}
}

func TestLookupFileSuppliersEmptyIsNotAnError(t *testing.T) {
	b := NewBroker(nil)
	suppliers := b.LookupFileSuppliers("does-not-exist")
	if len(suppliers) != 0 {
		t.Fatalf("expected empty slice, got %v", suppliers)
	}
}

func TestMarketStats(t *testing.T) {
	b := NewBroker(nil)
	b.RegisterStorageNode(StorageNode{NodeID: "n1"})
	b.RegisterFileSupplier("f1", FileSupplier{SupplierID: "s1"})
	b.RegisterFileSupplier("f1", FileSupplier{SupplierID: "s2"})

	stats := b.MarketStats()
	if stats.StorageNodeCount != 1 || stats.FileHashCount != 1 || stats.SupplierCount != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
