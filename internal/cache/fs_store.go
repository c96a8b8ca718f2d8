package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// FilePerm 与 deno 缓存目录保持一致，方便其他工具直接读取。
	FilePerm = 0o644
	dirPerm  = 0o755
)

// NewStore 以 basePath 为根目录构建磁盘缓存。根目录在首次写入时才会创建，
// 只读环境下仍可正常构造并读取已有内容。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 的写入交错，读取不加锁。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Location() string {
	return s.basePath
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	data := make([]byte, 0, info.Size())
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, readErr := f.Read(buf)
		data = append(data, buf[:n]...)
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return data, nil
			}
			return nil, readErr
		}
	}
}

func (s *fileStore) Set(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.Path(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), dirPerm); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Chmod(FilePerm)
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.Path(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Exists(key string) bool {
	filePath, err := s.Path(key)
	if err != nil {
		return false
	}
	info, err := os.Lstat(filePath)
	return err == nil && info.Mode().IsRegular()
}

func (s *fileStore) Path(key string) (string, error) {
	rel := strings.TrimSpace(filepath.ToSlash(key))
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", ErrInvalidKey
	}
	raw := filepath.ToSlash(key)
	if raw == ".." || strings.HasPrefix(raw, "../") || strings.Contains(raw, "/../") || strings.HasSuffix(raw, "/..") {
		return "", ErrInvalidKey
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return filePath, nil
}

func (s *fileStore) lockEntry(key string) func() {
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
