// Package gcs provides a story store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
	storagenames "github.com/JakeFAU/hnarchiver/internal/storage"
)

// markerObject is written once per story directory. Buckets have no real
// directories, so its creation stands in for mkdir.
const markerObject = ".story"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Store writes story objects below a prefix of a GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ crawler.Store = (*Store)(nil)

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// CreateStoryDir writes the marker object of the story under a
// does-not-exist precondition. A failed precondition means the directory was
// made earlier.
func (s *Store) CreateStoryDir(ctx context.Context, entry crawler.StoryEntry) (crawler.StoryDir, bool, error) {
	name := storagenames.StoryDirName(entry.ID, entry.Title, entry.URL)
	dir := crawler.StoryDir{
		StoryID:  entry.ID,
		Name:     name,
		Location: s.uri(s.objectName(name, "")),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return crawler.StoryDir{}, false, fmt.Errorf("marshal story marker: %w", err)
	}
	object := s.client.Bucket(s.bucket).
		Object(s.objectName(name, markerObject)).
		If(storage.Conditions{DoesNotExist: true})
	err = s.write(ctx, object, "application/json", payload)
	if err == nil {
		return dir, true, nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return dir, false, nil
	}
	return crawler.StoryDir{}, false, fmt.Errorf("create story marker %q: %w", name, err)
}

// SaveBinary uploads body and returns a gs:// URI.
func (s *Store) SaveBinary(ctx context.Context, dir *crawler.StoryDir, url string, body []byte) (string, error) {
	dirName := ""
	if dir != nil {
		dirName = dir.Name
	}
	name := s.objectName(dirName, storagenames.FileName(url))
	if err := s.write(ctx, s.client.Bucket(s.bucket).Object(name), "", body); err != nil {
		return "", err
	}
	return s.uri(name), nil
}

func (s *Store) write(ctx context.Context, object *storage.ObjectHandle, contentType string, data []byte) error {
	writer := object.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (s *Store) objectName(dir, file string) string {
	return path.Join(s.prefix, dir, file)
}

func (s *Store) uri(name string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, name)
}
