package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the snapshotting SQL stores, one row per bucket.
const (
	BucketExperiments = "experiments"
	BucketBoundaries  = "boundaries"
	BucketPlots       = "plots"
)

// Buckets lists the snapshot buckets in persistence order.
var Buckets = []string{BucketExperiments, BucketBoundaries, BucketPlots}

// EncodeBucket marshals one bucket of the snapshot.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	switch bucket {
	case BucketExperiments:
		return json.Marshal(s.Experiments)
	case BucketBoundaries:
		return json.Marshal(s.Boundaries)
	case BucketPlots:
		return json.Marshal(s.Plots)
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
}

// DecodeBucket unmarshals payload into the named bucket. Unknown buckets are
// ignored so stores can read state written by newer versions.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketExperiments:
		target = &s.Experiments
	case BucketBoundaries:
		target = &s.Boundaries
	case BucketPlots:
		target = &s.Plots
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
