package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/orrn/printdesk/internal/core"
)

var ErrObjectNotFound = errors.New("object not found")

// FilesystemProvider keeps durable copies under a root directory, for single-host
// deployments and tests. Writing the same object id twice replaces the file.
type FilesystemProvider struct {
	root          string
	publicBaseURL string
}

func NewFilesystemProvider(root, publicBaseURL string) (*FilesystemProvider, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FilesystemProvider{root: root, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (p *FilesystemProvider) Upload(ctx context.Context, localPath, folder, objectID string) (*core.StorageRef, error) {
	key, err := objectKey(folder, objectID)
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(p.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object folder: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return nil, fmt.Errorf("failed to write object: %w", copyErr)
		}
		return nil, fmt.Errorf("failed to write object: %w", closeErr)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("failed to commit object: %w", err)
	}

	return &core.StorageRef{URL: p.url(key, dst), ObjectID: key, Bytes: n}, nil
}

func (p *FilesystemProvider) Delete(_ context.Context, objectID string) error {
	dst, err := p.resolve(objectID)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (p *FilesystemProvider) Open(_ context.Context, objectID string) (io.ReadCloser, error) {
	dst, err := p.resolve(objectID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

func (p *FilesystemProvider) resolve(objectID string) (string, error) {
	clean := path.Clean("/" + objectID)
	if clean == "/" || objectID == "" {
		return "", fmt.Errorf("invalid object id %q", objectID)
	}
	return filepath.Join(p.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (p *FilesystemProvider) url(key, dst string) string {
	if p.publicBaseURL != "" {
		return p.publicBaseURL + "/" + key
	}
	return "file://" + filepath.ToSlash(dst)
}

// objectKey joins folder and objectID into a slash-separated key that cannot escape the folder.
func objectKey(folder, objectID string) (string, error) {
	if objectID == "" || strings.ContainsAny(objectID, `/\`) || objectID == "." || objectID == ".." {
		return "", fmt.Errorf("invalid object id %q", objectID)
	}
	folder = strings.Trim(path.Clean("/"+strings.ReplaceAll(folder, `\`, "/")), "/")
	if folder == "" {
		return objectID, nil
	}
	return folder + "/" + objectID, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
