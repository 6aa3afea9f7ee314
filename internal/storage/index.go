package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tazhate/packreminder/internal/domain"
)

const (
	idsPrefix  = "reminder:ids:"
	metaPrefix = "reminder:meta:"
)

// KV is the local store contract the index is written through.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Index persists one PersistedIndex per list as two entries: the armed
// alert ids and the spec metadata used for restoration.
type Index struct {
	kv KV
}

func NewIndex(kv KV) *Index {
	return &Index{kv: kv}
}

// Save replaces whatever was stored for idx.ListID.
func (x *Index) Save(ctx context.Context, idx domain.PersistedIndex) error {
	ids := idx.AlertIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode alert ids: %w", err)
	}
	metaJSON, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := x.kv.Put(ctx, idsPrefix+idx.ListID, idsJSON); err != nil {
		return fmt.Errorf("save alert ids: %w", err)
	}
	if err := x.kv.Put(ctx, metaPrefix+idx.ListID, metaJSON); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// Load returns nil, nil when nothing is stored for listID. If only the id
// entry survived, the returned index carries ids and an empty spec.
func (x *Index) Load(ctx context.Context, listID string) (*domain.PersistedIndex, error) {
	idsJSON, err := x.kv.Get(ctx, idsPrefix+listID)
	if err != nil {
		return nil, fmt.Errorf("load alert ids: %w", err)
	}
	metaJSON, err := x.kv.Get(ctx, metaPrefix+listID)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	if idsJSON == nil && metaJSON == nil {
		return nil, nil
	}

	idx := &domain.PersistedIndex{ListID: listID}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, idx); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", listID, err)
		}
	}
	// The id entry is authoritative for which alerts are armed.
	idx.AlertIDs = nil
	if idsJSON != nil {
		if err := json.Unmarshal(idsJSON, &idx.AlertIDs); err != nil {
			return nil, fmt.Errorf("decode alert ids for %s: %w", listID, err)
		}
	}
	return idx, nil
}

func (x *Index) Delete(ctx context.Context, listID string) error {
	var firstErr error
	for _, key := range []string{idsPrefix + listID, metaPrefix + listID} {
		if err := x.kv.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListIDs returns every list that has spec metadata stored.
func (x *Index) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := x.kv.ListKeys(ctx, metaPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, metaPrefix))
	}
	return ids, nil
}
