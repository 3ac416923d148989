package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore keeps artifacts in a Supabase storage bucket.
type SupabaseStore struct {
	client  *storage_go.Client
	bucket  string
	baseURL string
}

// NewSupabaseStore configures a bucket-backed store. The service role key is
// required; public URIs are derived from the project URL.
func NewSupabaseStore(projectURL, serviceKey, bucket string) (*SupabaseStore, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" {
		return nil, errors.New("storage: supabase project url is required")
	}
	if strings.TrimSpace(serviceKey) == "" {
		return nil, errors.New("storage: supabase service key is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	client := storage_go.NewClient(projectURL+"/storage/v1", serviceKey, nil)
	return &SupabaseStore{client: client, bucket: bucket, baseURL: projectURL}, nil
}

// Put uploads data under key and returns its public URI.
func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	_, err = s.client.UploadFile(s.bucket, cleanKey, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", cleanKey, err)
	}
	return s.URI(cleanKey), nil
}

// Delete removes the given keys from the bucket.
func (s *SupabaseStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if clean, err := sanitizeKey(key); err == nil {
			cleaned = append(cleaned, clean)
		}
	}
	if _, err := s.client.RemoveFile(s.bucket, cleaned); err != nil {
		return fmt.Errorf("storage: remove objects: %w", err)
	}
	return nil
}

// URI returns the public object URI for a key.
func (s *SupabaseStore) URI(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}

var _ ObjectStore = (*SupabaseStore)(nil)
