// Package market matches file-sharing demand to storage supply: an
// in-memory registry of storage nodes and file suppliers, plus a local
// chunk-custody HTTP broker.
package market

import "time"

// StorageNode is an entry in the storage-node registry: a peer offering
// raw chunk storage capacity.
type StorageNode struct {
	NodeID        string    `json:"node_id"`
	Endpoint      string    `json:"endpoint"`
	Capacity      uint64    `json:"capacity"`
	Available     uint64    `json:"available"`
	PricePerUnit  float64   `json:"price_per_unit"`
	BandwidthCap  uint64    `json:"bandwidth_cap"`
	Reputation    float64   `json:"reputation_score"`
	UptimeFrac    float64   `json:"uptime_fraction"`
	LastSeen      time.Time `json:"last_seen"`
}

// FileSupplier is an entry in the per-file-hash supplier multi-map: a peer
// advertising willingness to serve a specific file hash.
type FileSupplier struct {
	SupplierID string    `json:"supplier_id"`
	FileHash   string    `json:"file_hash"`
	Endpoint   string    `json:"endpoint"`
	Price      float64   `json:"price"`
	Bandwidth  uint64    `json:"bandwidth"`
	Reputation float64   `json:"reputation_score"`
	LastSeen   time.Time `json:"last_seen"`
}

// MarketStats summarizes the in-memory registry for operator visibility.
type MarketStats struct {
	StorageNodeCount int `json:"storage_node_count"`
	FileHashCount    int `json:"file_hash_count"`
	SupplierCount    int `json:"supplier_count"`
}

// ChunkUploadRequest is the storage broker's chunk-custody request.
type ChunkUploadRequest struct {
	ChunkHash  string `json:"chunk_hash"`
	ChunkData  []byte `json:"chunk_data"`
	FileHash   string `json:"file_hash"`
	ChunkIndex uint32 `json:"chunk_index"`
	PaymentTx  string `json:"payment_tx,omitempty"`
}

// ChunkUploadResponse is returned on a successful chunk store.
type ChunkUploadResponse struct {
	Success      bool   `json:"success"`
	ChunkHash    string `json:"chunk_hash"`
	Size         int    `json:"size"`
	StorageProof string `json:"storage_proof"`
	NodeID       string `json:"node_id"`
}

// StorageStats summarizes the storage broker's capacity accounting.
type StorageStats struct {
	NodeID            string  `json:"node_id"`
	TotalCapacity     uint64  `json:"total_capacity"`
	UsedCapacity      uint64  `json:"used_capacity"`
	AvailableCapacity uint64  `json:"available_capacity"`
	StoredChunks      uint64  `json:"stored_chunks"`
	Uptime            float32 `json:"uptime"`
	Reputation        float32 `json:"reputation"`
}

type chunkMeta struct {
	FileHash    string
	ChunkIndex  uint32
	Size        uint64
	StoredAt    time.Time
	AccessCount uint64
}

const (
	// stalenessCutoff is how long a storage-node/supplier observation stays
	// fresh before query_storage_nodes / lookup_file_suppliers treat it as
	// gone.
	stalenessCutoff = 300 * time.Second

	minUptime     = 0.9
	minReputation = 3.0
)
