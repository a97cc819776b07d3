package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// StoreOption 调整磁盘缓存的可选行为。
type StoreOption func(*fileStore)

// WithFs 替换底层文件系统，测试中可注入 afero.NewMemMapFs()。
func WithFs(fsys afero.Fs) StoreOption {
	return func(s *fileStore) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string, opts ...StoreOption) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	s := &fileStore{
		fs:       afero.NewOsFs(),
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return s, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入，同时复用 basePath。
type fileStore struct {
	fs       afero.Fs
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Exists(ctx context.Context, locator Locator) bool {
	if ctx.Err() != nil {
		return false
	}
	filePath, err := s.Path(locator)
	if err != nil {
		return false
	}
	info, err := s.fs.Stat(filePath)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func (s *fileStore) Read(ctx context.Context, locator Locator) ([]byte, *Entry, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	filePath, err := s.Path(locator)
	if err != nil {
		return nil, nil, err
	}

	info, err := s.fs.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, ErrNotFound
	}

	data, err := afero.ReadFile(s.fs, filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	return data, &Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: int64(len(data)),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Write(ctx context.Context, locator Locator, data []byte) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.Path(locator)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(filePath)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tempFile, err := afero.TempFile(s.fs, dir, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tempName)
		return nil, err
	}

	if err := s.fs.Rename(tempName, filePath); err != nil {
		_ = s.fs.Remove(tempName)
		return nil, err
	}

	info, err := s.fs.Stat(filePath)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Delete(ctx context.Context, locator Locator) error {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.Path(locator)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Path(locator Locator) (string, error) {
	if locator.Root == "" {
		return "", errors.New("cache root required")
	}
	if strings.ContainsAny(locator.Root, `/\`) || locator.Root == "." || locator.Root == ".." {
		return "", fmt.Errorf("invalid cache root: %s", locator.Root)
	}

	rootDir := filepath.Join(s.basePath, locator.Root)
	filePath := filepath.Join(rootDir, filepath.FromSlash(EncodeKey(locator.Key)))
	if !strings.HasPrefix(filePath, rootDir+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func locatorKey(locator Locator) string {
	return locator.Root + "::" + string(locator.Key)
}
