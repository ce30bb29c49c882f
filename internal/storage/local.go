package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	dgerrors "github.com/datagen/datagen/internal/errors"
)

// LocalStorage implements ObjectStorage on the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to create base directory", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Put copies the file into storage. The ETag is the hex MD5 of the content,
// as S3 reports for single-part uploads.
func (l *LocalStorage) Put(ctx context.Context, localPath, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	destPath, err := l.fullPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to create object directory", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to open upload source", err)
	}
	defer src.Close()

	// write to a temporary name so readers never see a partial object
	tmpPath := destPath + ".part"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to create object", err)
	}

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(dst, hash), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to copy object", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to commit object", err)
	}

	info, err := l.Stat(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info.Size = size
	info.ETag = hex.EncodeToString(hash.Sum(nil))
	return info, nil
}

// Open opens the object for reading.
func (l *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := l.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	path, _ := l.fullPath(key)
	f, err := os.Open(path)
	if err != nil {
		return nil, ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeDownloadFailed, "failed to open object", err)
	}
	return f, info, nil
}

// Stat returns the object's size and modification time.
func (l *LocalStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	path, err := l.fullPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, dgerrors.NewStorageError(dgerrors.CodeDownloadFailed, "failed to stat object", err)
	}
	return ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

// Delete removes an object from local storage.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return dgerrors.NewStorageError(dgerrors.CodeUploadFailed, "failed to delete object", err)
	}
	return nil
}

// List returns all objects under prefix.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	searchDir, err := l.fullPath(prefix)
	if err != nil {
		return nil, err
	}

	var objects []ObjectInfo
	err = filepath.WalkDir(searchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".part") {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: filepath.ToSlash(rel), Size: fi.Size(), LastModified: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, dgerrors.NewStorageError(dgerrors.CodeDownloadFailed, "failed to list objects", err)
	}
	return objects, nil
}

// fullPath maps a key into basePath and rejects keys escaping it.
func (l *LocalStorage) fullPath(key string) (string, error) {
	path := filepath.Join(l.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.basePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", dgerrors.NewStorageError(dgerrors.CodeObjectNotFound, "invalid object key", nil).
			WithDetails(map[string]interface{}{"key": key})
	}
	return path, nil
}
