package images

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var _ Store = (*DiskStore)(nil)

// DiskStore keeps images as files in one directory served under a URL prefix.
type DiskStore struct {
	dir    string
	prefix string
}

// NewDiskStore creates dir if needed. prefix is the public URL path, e.g. "/uploads".
func NewDiskStore(dir, prefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &DiskStore{dir: dir, prefix: strings.TrimRight(prefix, "/")}, nil
}

// Dir returns the directory images are written to.
func (d *DiskStore) Dir() string { return d.dir }

func (d *DiskStore) Put(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validName(name) {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, filepath.Join(d.dir, name)); err != nil {
		return "", fmt.Errorf("failed to move image into place: %w", err)
	}
	return d.URL(name), nil
}

func (d *DiskStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validName(name) {
		return fmt.Errorf("invalid image name %q", name)
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (d *DiskStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *DiskStore) URL(name string) string {
	return d.prefix + "/" + name
}

func (d *DiskStore) NameFromURL(url string) (string, bool) {
	name, ok := strings.CutPrefix(url, d.prefix+"/")
	if !ok || !validName(name) {
		return "", false
	}
	return name, true
}
