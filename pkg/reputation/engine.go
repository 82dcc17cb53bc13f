package reputation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chiral-network/chiral-node/pkg/chiralerr"
)

// DHTKey derives the reputation DHT record key for targetID:
// hex(SHA256(target_id || "tx-rep")).
func DHTKey(targetID string) string {
	h := sha256.New()
	h.Write([]byte(targetID))
	h.Write([]byte("tx-rep"))
	return hex.EncodeToString(h.Sum(nil))
}

// Engine ties together record persistence, validation/dedupe, scoring, the
// score cache, and the blacklist.
type Engine struct {
	root   string
	cfg    Config
	lookup PublicKeyLookup
	cache  *ScoreCache
	black  *BlacklistManager
	log    *logrus.Entry

	mu      sync.Mutex
	records map[string]*Record
}

// NewEngine constructs a reputation engine persisting records under root.
func NewEngine(root string, cfg Config, lookup PublicKeyLookup, log *logrus.Entry) (*Engine, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, chiralerr.Wrap(chiralerr.Io, "create reputation directory", err)
	}
	return &Engine{
		root:    root,
		cfg:     cfg,
		lookup:  lookup,
		cache:   NewScoreCache(cfg.CacheTTL),
		black:   NewBlacklistManager(cfg),
		log:     log.WithField("component", "reputation"),
		records: make(map[string]*Record),
	}, nil
}

func (e *Engine) recordPath(targetID string) string {
	return filepath.Join(e.root, DHTKey(targetID)+".json")
}

func (e *Engine) loadRecord(targetID string) *Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.records[targetID]; ok {
		return r
	}
	r := &Record{TargetID: targetID}
	if body, err := os.ReadFile(e.recordPath(targetID)); err == nil {
		_ = json.Unmarshal(body, r)
	}
	e.records[targetID] = r
	return r
}

func (e *Engine) persist(r *Record) error {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return chiralerr.Wrap(chiralerr.InvalidInput, "marshal reputation record", err)
	}
	final := e.recordPath(r.TargetID)
	tmp, err := os.CreateTemp(e.root, "rep.tmp.*")
	if err != nil {
		return chiralerr.Wrap(chiralerr.Io, "create reputation temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chiralerr.Wrap(chiralerr.Io, "write reputation record", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chiralerr.Wrap(chiralerr.Io, "sync reputation record", err)
	}
	tmp.Close()
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return chiralerr.Wrap(chiralerr.Io, "rename reputation record into place", err)
	}
	return nil
}

// SubmitVerdict validates, dedupes, appends, and persists v, then
// invalidates the target's cached score and evaluates the auto-blacklist
// trigger. Validation and dedupe failures are logged and dropped, matching
// the engine's soft-failure error-handling design; they are still returned
// to the caller for diagnostics counting.
func (e *Engine) SubmitVerdict(v Verdict) error {
	r := e.loadRecord(v.TargetID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := AddVerdict(r, v, e.lookup); err != nil {
		e.log.WithError(err).WithField("target_id", v.TargetID).Warn("dropped verdict")
		return err
	}
	if err := e.persist(r); err != nil {
		return err
	}
	e.cache.Clear(v.TargetID)

	score := Score(r.Verdicts, time.Now().UTC(), e.cfg.DecayHalfLifeDays)
	e.black.MaybeAutoBlacklist(v.TargetID, score, CountBad(r.Verdicts))
	return nil
}

// PeerScore returns the cached score for peerID if fresh, otherwise
// recomputes it from the stored verdict set and caches the result.
func (e *Engine) PeerScore(peerID string) (float64, TrustLevel) {
	if cached, ok := e.cache.Get(peerID); ok {
		return cached.Score, cached.TrustLevel
	}

	r := e.loadRecord(peerID)
	e.mu.Lock()
	score := Score(r.Verdicts, time.Now().UTC(), e.cfg.DecayHalfLifeDays)
	e.mu.Unlock()

	trust := TrustLevelOf(score)
	e.cache.Set(peerID, score, trust)
	return score, trust
}

// Blacklist exposes the engine's blacklist manager.
func (e *Engine) Blacklist() *BlacklistManager { return e.black }
