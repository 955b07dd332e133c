package store

import (
	"encoding/json"
	"fmt"
	"os"
)

// keyStats mirrors the original implementation's DBMetaKeyStats: the
// count and numeric/lexicographic min/max of a table's key space.
type keyStats[K any] struct {
	Count uint64 `json:"count"`
	Min   K      `json:"min"`
	Max   K      `json:"max"`
}

// manifest is the JSON sidecar persisted at <db_root>/meta.json. Unlike
// the original, it also carries the HEALPix order the healpixels table
// was built at, resolving the open question of whether the order should
// be promoted out of hard-coded constant into on-disk, self-describing
// state (see DESIGN.md).
type manifest struct {
	S3Bucket     string           `json:"s3_bucket"`
	S3Region     string           `json:"s3_region"`
	HealpixOrder int              `json:"healpixel_order"`
	Candidates   keyStats[int64]  `json:"candidates"`
	Objects      keyStats[string] `json:"objects"`
	Healpixels   keyStats[uint64] `json:"healpixels"`
	// Timestamps.Min/Max are POSIX-epoch seconds, per the on-disk schema;
	// the underlying table key space is unix nanoseconds.
	Timestamps keyStats[float64] `json:"timestamps"`
}

func manifestPath(dbRoot string) string {
	return dbRoot + "/meta.json"
}

func loadManifest(dbRoot string) (*manifest, bool, error) {
	b, err := os.ReadFile(manifestPath(dbRoot))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: reading manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false, fmt.Errorf("store: parsing manifest: %w", err)
	}
	return &m, true, nil
}

func (m *manifest) save(dbRoot string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: encoding manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath(dbRoot), b, 0o644); err != nil {
		return fmt.Errorf("store: writing manifest: %w", err)
	}
	return nil
}
