package market

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustBroker(t *testing.T, capacity uint64) *StorageBroker {
	t.Helper()
	b, err := NewStorageBroker("node-1", t.TempDir(), capacity, nil)
	if err != nil {
		t.Fatalf("NewStorageBroker: %v", err)
	}
	return b
}

func TestStoreRetrieveVerifyDeleteChunk(t *testing.T) {
	b := mustBroker(t, 1024)
	data := []byte("chunk payload")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	resp, err := b.StoreChunk(ChunkUploadRequest{ChunkHash: hash, ChunkData: data, FileHash: "f1"})
	if err != nil {
		t.Fatalf("StoreChunk: %v", err)
	}
	if !resp.Success || resp.ChunkHash != hash {
		t.Fatalf("unexpected response: %+v", resp)
	}

	got, err := b.RetrieveChunk(hash)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("RetrieveChunk mismatch: %v %v", got, err)
	}

	ok, err := b.VerifyChunk(hash)
	if err != nil || !ok {
		t.Fatalf("VerifyChunk failed: %v %v", ok, err)
	}

	statsBefore := b.Stats()
	if statsBefore.UsedCapacity != uint64(len(data)) {
		t.Fatalf("expected used capacity %d, got %d", len(data), statsBefore.UsedCapacity)
	}

	if err := b.DeleteChunk(hash); err != nil {
		t.Fatalf("DeleteChunk: %v", err)
	}
	statsAfter := b.Stats()
	if statsAfter.UsedCapacity != 0 {
		t.Fatalf("expected used capacity 0 after delete, got %d", statsAfter.UsedCapacity)
	}
}

func TestStoreChunkRejectsHashMismatch(t *testing.T) {
	b := mustBroker(t, 1024)
	if _, err := b.StoreChunk(ChunkUploadRequest{ChunkHash: "deadbeef", ChunkData: []byte("x")}); err == nil {
		t.Fatalf("expected hash mismatch error")
	}
}

func TestStoreChunkRejectsOverCapacity(t *testing.T) {
	b := mustBroker(t, 4)
	data := []byte("too big")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if _, err := b.StoreChunk(ChunkUploadRequest{ChunkHash: hash, ChunkData: data}); err == nil {
		t.Fatalf("expected capacity exceeded error")
	}
}

func TestHTTPUploadDownloadHealth(t *testing.T) {
	b := mustBroker(t, 1024)
	srv := httptest.NewServer(NewHTTPRouter(b, nil))
	defer srv.Close()

	body := []byte("http roundtrip payload")
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/chunks", bytes.NewReader(body))
	req.Header.Set("x-chunk-hash", hash)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /chunks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var uploadResp ChunkUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if uploadResp.ChunkHash != hash {
		t.Fatalf("unexpected chunk hash in response: %s", uploadResp.ChunkHash)
	}

	getResp, err := http.Get(srv.URL + "/chunks/" + hash)
	if err != nil {
		t.Fatalf("GET /chunks/{hash}: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}

	badResp, err := http.Get(srv.URL + "/chunks/not-a-hash")
	if err != nil {
		t.Fatalf("GET invalid hash: %v", err)
	}
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid hash format, got %d", badResp.StatusCode)
	}

	healthResp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", healthResp.StatusCode)
	}
}

func TestHTTPUploadEmptyBodyRejected(t *testing.T) {
	b := mustBroker(t, 1024)
	srv := httptest.NewServer(NewHTTPRouter(b, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chunks", "application/octet-stream", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST empty body: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.StatusCode)
	}
}
