package monitor

import (
	"errors"
	"strconv"

	"github.com/rampline/settlement/pkg/infra"
	"github.com/rampline/settlement/pkg/kvstore"
)

const watermarkPrefix = "watermark"

// WatermarkStore persists the last scanned block height per network so a
// restarted monitor resumes instead of rescanning from genesis. Rescanning
// overlap is always safe because deposit inserts are idempotent.
type WatermarkStore struct {
	kv infra.KVStore
}

func NewWatermarkStore(kv infra.KVStore) *WatermarkStore {
	return &WatermarkStore{kv: kv}
}

func (w *WatermarkStore) key(network string) string {
	return watermarkPrefix + "/" + network
}

// Get returns the stored watermark, or (0, false) when none exists yet.
func (w *WatermarkStore) Get(network string) (uint64, bool, error) {
	v, err := w.kv.Get(w.key(network))
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	height, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}

func (w *WatermarkStore) Save(network string, height uint64) error {
	return w.kv.Set(w.key(network), strconv.FormatUint(height, 10))
}
