package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/utils"
	"github.com/spf13/afero"
)

// AferoFileStore реализация FileStorePort поверх afero.Fs.
// В production используется файловая система с базовым каталогом,
// в тестах - память (afero.NewMemMapFs)
type AferoFileStore struct {
	fs afero.Fs
}

// NewFileStore создает хранилище с базовым каталогом на локальной файловой системе
func NewFileStore(basePath string) (ports.FileStorePort, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is empty")
	}

	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &AferoFileStore{
		fs: afero.NewBasePathFs(osFs, basePath),
	}, nil
}

// NewFileStoreWithFs создает хранилище поверх готовой файловой системы
func NewFileStoreWithFs(fs afero.Fs) ports.FileStorePort {
	return &AferoFileStore{fs: fs}
}

// WriteFileFromBuffer записывает данные по ключу, перезаписывая существующий объект
func (s *AferoFileStore) WriteFileFromBuffer(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if dir := filepath.Dir(key); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
		}
	}

	if err := afero.WriteFile(s.fs, key, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", key, err)
	}

	return key, nil
}

// ReadFileToBuffer читает данные по ключу
func (s *AferoFileStore) ReadFileToBuffer(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, utils.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to read file %s: %w", key, err)
	}

	return data, nil
}

// Exists проверяет наличие объекта по ключу
func (s *AferoFileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ok, err := afero.Exists(s.fs, key)
	if err != nil {
		return false, fmt.Errorf("failed to stat file %s: %w", key, err)
	}
	return ok, nil
}
