package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
)

// Key prefixes for the objects the import service writes.
const (
	UploadsPrefix = "uploads"
	CursorsPrefix = "cursors"
)

// UploadKey addresses one archived design file of a submission.
func UploadKey(experimentID, submissionID, kind string) string {
	return path.Join(UploadsPrefix, experimentID, submissionID, kind)
}

// CursorKey addresses the persisted provisioning cursor of an experiment.
func CursorKey(experimentID string) string {
	return path.Join(CursorsPrefix, experimentID+".json")
}

// PutJSON replaces the object at key with the JSON encoding of v.
func PutJSON(ctx context.Context, store Store, key string, v any, metadata map[string]string) (Info, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Info{}, fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := store.Delete(ctx, key); err != nil {
		return Info{}, err
	}
	return store.Put(ctx, key, bytes.NewReader(data), PutOptions{ContentType: "application/json", Metadata: metadata})
}

// GetJSON decodes the object at key into v. It reports false when the key
// does not exist.
func GetJSON(ctx context.Context, store Store, key string, v any) (bool, error) {
	_, rc, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
