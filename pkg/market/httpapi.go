package market

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// version is reported by /health. Bumped alongside the wire-format version
// of the chunk frame it serves.
const version = "1.0.0"

var chunkHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// NewHTTPRouter builds the storage broker's HTTP API: POST/GET /chunks,
// GET /chunks/{hash}, GET /health.
func NewHTTPRouter(broker *StorageBroker, log *logrus.Entry) http.Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &httpHandler{broker: broker, log: log.WithField("component", "storage_broker_http")}

	r := chi.NewRouter()
	r.Post("/chunks", h.upload)
	r.Get("/chunks", h.list)
	r.Get("/chunks/{hash}", h.download)
	r.Get("/health", h.health)
	return r
}

type httpHandler struct {
	broker *StorageBroker
	log    *logrus.Entry
}

func (h *httpHandler) upload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "Empty chunk data")
		return
	}

	sum := sha256.Sum256(body)
	computed := hex.EncodeToString(sum[:])

	if declared := r.Header.Get("x-chunk-hash"); declared != "" && declared != computed {
		writeError(w, http.StatusBadRequest, "Chunk hash mismatch")
		return
	}

	resp, err := h.broker.StoreChunk(ChunkUploadRequest{
		ChunkHash: computed,
		ChunkData: body,
	})
	if err != nil {
		h.log.WithError(err).Warn("chunk store failed")
		writeError(w, http.StatusInsufficientStorage, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *httpHandler) download(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if !chunkHashPattern.MatchString(hash) {
		writeError(w, http.StatusBadRequest, "Invalid chunk hash format")
		return
	}

	data, err := h.broker.RetrieveChunk(hash)
	if err != nil {
		writeError(w, http.StatusNotFound, "Chunk not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *httpHandler) list(w http.ResponseWriter, r *http.Request) {
	chunks := h.broker.ListChunks()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"chunks": chunks,
		"count":  len(chunks),
	})
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
