package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/resilience"
)

// Storage keeps blobs on the local filesystem, one subdirectory per container.
type Storage struct {
	basePath string
	baseURL  string
	executor *resilience.Executor
}

type Options struct {
	// BaseURL is prefixed to "<container>/<name>" when building blob locations.
	// Empty means file:// URLs.
	BaseURL            string
	ResilienceExecutor *resilience.Executor
}

func New(basePath string) (*Storage, error) {
	return NewWithOptions(basePath, Options{})
}

func NewWithOptions(basePath string, options Options) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{
		basePath: abs,
		baseURL:  strings.TrimRight(options.BaseURL, "/"),
		executor: options.ResilienceExecutor,
	}, nil
}

// Resolve confirms the blob exists and returns its fetchable location.
func (s *Storage) Resolve(ctx context.Context, container, name string) (string, error) {
	return resilience.Do(ctx, s.executor, "blob.resolve", func(context.Context) (string, error) {
		p, err := s.blobPath(container, name)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(p)
		if err != nil {
			return "", classifyFSError("resolve blob", err)
		}
		if info.IsDir() {
			return "", domain.WrapError(domain.ErrNotFound, "resolve blob", fmt.Errorf("%s/%s is a directory", container, name))
		}
		return s.location(container, name, p), nil
	}, nil)
}

// Copy duplicates a blob into dstContainer. The destination appears atomically.
func (s *Storage) Copy(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) (string, error) {
	return resilience.Do(ctx, s.executor, "blob.copy", func(ctx context.Context) (string, error) {
		src, err := s.Open(ctx, srcContainer, srcName)
		if err != nil {
			return "", err
		}
		defer src.Close()

		if err := s.Save(ctx, dstContainer, dstName, src); err != nil {
			return "", err
		}
		p, _ := s.blobPath(dstContainer, dstName)
		return s.location(dstContainer, dstName, p), nil
	}, nil)
}

func (s *Storage) Save(_ context.Context, container, name string, data io.Reader) error {
	p, err := s.blobPath(container, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("publish file: %w", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, container, name string) (io.ReadCloser, error) {
	p, err := s.blobPath(container, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, classifyFSError("open blob", err)
	}
	return f, nil
}

func (s *Storage) blobPath(container, name string) (string, error) {
	const op = "blob path"
	if container == "" || strings.ContainsAny(container, `/\`) || !filepath.IsLocal(container) {
		return "", domain.Invalid(op, "invalid container %q", container)
	}
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", domain.Invalid(op, "invalid blob name %q", name)
	}
	return filepath.Join(s.basePath, container, filepath.FromSlash(name)), nil
}

func (s *Storage) location(container, name, p string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + path.Join(url.PathEscape(container), escapeSegments(name))
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

func escapeSegments(name string) string {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func classifyFSError(op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.WrapError(domain.ErrNotFound, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
