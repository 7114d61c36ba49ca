package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/brewery-medallion/internal/util"
)

const headsFile = "lineage-chain-heads.json"

var (
	// ErrNoChainHead indicates no previous event exists for this chain.
	ErrNoChainHead = errors.New("no chain head found")
)

// ComputeEventHash hashes the JSON form of evt with event_hash cleared.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyChain checks that events, oldest first, form an unbroken chain:
// sequences count up from 1, each event points at its predecessor, and
// every stored hash matches the content.
func VerifyChain(events []Event) error {
	prev := ""
	for i := range events {
		e := &events[i]
		if want := int64(i + 1); e.Chain.Sequence != want {
			return fmt.Errorf("event %s: sequence %d, want %d", e.EventID, e.Chain.Sequence, want)
		}
		if e.Chain.PrevEventHash != prev {
			return fmt.Errorf("event %s: prev_event_hash %q, want %q", e.EventID, e.Chain.PrevEventHash, prev)
		}
		if got := ComputeEventHash(e); got != e.Chain.EventHash {
			return fmt.Errorf("event %s: hash mismatch", e.EventID)
		}
		prev = e.Chain.EventHash
	}
	return nil
}

// Head is the last event accepted on one chain.
type Head struct {
	EventID      string    `json:"event_id"`
	EventHash    string    `json:"event_hash"`
	Sequence     int64     `json:"sequence"`
	TableVersion *int64    `json:"table_version,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChainTracker keeps the head of every chain in a JSON file beside the
// event backups.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]Head
	path  string
}

// NewChainTracker opens (or starts) the head file in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		dir = "./state"
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		heads: make(map[string]Head),
		path:  filepath.Join(dir, headsFile),
	}
	data, err := os.ReadFile(ct.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("load chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("decode chain heads %s: %w", ct.path, err)
		}
	}
	return ct, nil
}

// Head returns the current head of chainKey.
func (ct *ChainTracker) Head(chainKey string) (Head, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	h, ok := ct.heads[chainKey]
	if !ok || h.EventHash == "" {
		return Head{}, ErrNoChainHead
	}
	return h, nil
}

// Link points evt at the current head of its chain and computes its hash.
// The head itself does not move until Advance.
func (ct *ChainTracker) Link(evt *Event) {
	h, err := ct.Head(evt.ChainKey())
	if err != nil {
		h = Head{}
	}
	evt.Chain.PrevEventHash = h.EventHash
	evt.Chain.Sequence = h.Sequence + 1
	evt.Chain.EventHash = ComputeEventHash(evt)
}

// Advance makes a linked evt the head of its chain. An event linked
// against a stale head is refused.
func (ct *ChainTracker) Advance(evt *Event) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	key := evt.ChainKey()
	cur := ct.heads[key]
	if evt.Chain.PrevEventHash != cur.EventHash {
		return fmt.Errorf("chain %s moved: event links %q, head is %q", key, evt.Chain.PrevEventHash, cur.EventHash)
	}

	ct.heads[key] = Head{
		EventID:      evt.EventID,
		EventHash:    evt.Chain.EventHash,
		Sequence:     evt.Chain.Sequence,
		TableVersion: evt.Output.TableVersion,
		UpdatedAt:    evt.Timestamp,
	}
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(ct.path, data, 0644)
}

// GenerateEventID returns a new event ID.
func GenerateEventID() string {
	return "lin_evt_" + uuid.New().String()
}
