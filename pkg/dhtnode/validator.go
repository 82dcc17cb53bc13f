package dhtnode

import (
	"encoding/json"
	"strings"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// namespace is the internal key prefix go-libp2p-kad-dht's path-prefixed
// record.Validator dispatch requires: every stored key's first path
// segment must resolve to a registered namespace. The public command/event
// API never sees this prefix; PublishFile/SearchFile take and return the
// raw key bytes the spec defines.
const namespace = "chiral"

// namespacedKey prepends the internal dispatch prefix to a raw key.
func namespacedKey(rawKey string) string {
	return "/" + namespace + "/" + rawKey
}

// stripNamespace removes the internal dispatch prefix, returning the raw
// key the public API deals in.
func stripNamespace(key string) string {
	return strings.TrimPrefix(key, "/"+namespace+"/")
}

// NamespacedValidator backs both the file-metadata namespace and the
// reputation-record namespace under the shared "/chiral/" prefix. Select
// implements last-write-wins keyed by each candidate record's own embedded
// timestamp (CreatedAt for file metadata, LastUpdated for reputation
// records); Validate only checks that the value decodes as one of the two
// known record shapes.
type NamespacedValidator struct{}

// Validate reports whether value is a well-formed record under key's
// namespace. It does not enforce any application-level invariant beyond
// "decodes as JSON with the expected shape" — chunk/manifest/reputation
// level checks happen above this layer.
func (NamespacedValidator) Validate(key string, value []byte) error {
	var meta FileMetadata
	if err := json.Unmarshal(value, &meta); err == nil && meta.FileHash != "" {
		return nil
	}
	var rep ReputationRecordValue
	if err := json.Unmarshal(value, &rep); err == nil && rep.TargetID != "" {
		return nil
	}
	return chiralerr.New(chiralerr.InvalidInput, "record value matches neither file-metadata nor reputation shape")
}

// Select picks the "best" of several values stored under the same key.
// Both record shapes carry their own timestamp; the most recently stamped
// value wins, implementing last-write-wins without a total cross-peer
// order.
func (NamespacedValidator) Select(key string, values [][]byte) (int, error) {
	best := 0
	var bestStamp int64 = -1
	for i, v := range values {
		var meta FileMetadata
		if err := json.Unmarshal(v, &meta); err == nil && meta.FileHash != "" {
			if meta.CreatedAt > bestStamp {
				bestStamp = meta.CreatedAt
				best = i
			}
			continue
		}
		var rep ReputationRecordValue
		if err := json.Unmarshal(v, &rep); err == nil && rep.TargetID != "" {
			stamp := rep.LastUpdated.Unix()
			if stamp > bestStamp {
				bestStamp = stamp
				best = i
			}
		}
	}
	return best, nil
}
