package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"createcollab/internal/models"
)

type dataset struct {
	Assets map[string]models.VideoAsset `json:"assets"`
}

func newDataset() dataset {
	return dataset{Assets: make(map[string]models.VideoAsset)}
}

// JSONStore keeps the catalog in a single JSON file, rewritten atomically on
// every mutation. It suits single-node deployments and tests.
type JSONStore struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewJSONStore loads or initialises the catalog file at path.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open catalog file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode catalog file: %w", err)
	}
	if s.data.Assets == nil {
		s.data.Assets = make(map[string]models.VideoAsset)
	}
	return nil
}

func (s *JSONStore) persist() error {
	return s.persistDataset(s.data)
}

func (s *JSONStore) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode catalog file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush catalog file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp catalog file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace catalog file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, asset := range src.Assets {
		clone.Assets[id] = asset.Clone()
	}
	return clone
}

func generateAssetID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func (s *JSONStore) CreateAsset(ctx context.Context, params CreateAssetParams) (models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.VideoAsset{}, errors.New("title is required")
	}
	if strings.TrimSpace(params.RawAssetRef) == "" {
		return models.VideoAsset{}, errors.New("rawAssetRef is required")
	}

	id, err := generateAssetID()
	if err != nil {
		return models.VideoAsset{}, err
	}

	now := time.Now().UTC()
	asset := models.VideoAsset{
		ID:                id,
		Title:             title,
		RawAssetRef:       params.RawAssetRef,
		TranscodingStatus: models.TranscodingPending,
		UploadedAt:        now,
		UpdatedAt:         now,
	}

	s.data.Assets[id] = asset
	if err := s.persist(); err != nil {
		delete(s.data.Assets, id)
		return models.VideoAsset{}, err
	}
	return asset.Clone(), nil
}

func (s *JSONStore) GetAsset(ctx context.Context, id string) (models.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.data.Assets[id]
	if !ok {
		return models.VideoAsset{}, ErrNotFound
	}
	return asset.Clone(), nil
}

func (s *JSONStore) ListAssets(ctx context.Context) ([]models.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]models.VideoAsset, 0, len(s.data.Assets))
	for _, asset := range s.data.Assets {
		assets = append(assets, asset.Clone())
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].UploadedAt.Before(assets[j].UploadedAt)
	})
	return assets, nil
}

func (s *JSONStore) ListByStatus(ctx context.Context, status models.TranscodingStatus) ([]models.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]models.VideoAsset, 0)
	for _, asset := range s.data.Assets {
		if asset.TranscodingStatus == status {
			assets = append(assets, asset.Clone())
		}
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].UploadedAt.Before(assets[j].UploadedAt)
	})
	return assets, nil
}

func applyPatch(asset models.VideoAsset, patch AssetPatch) (models.VideoAsset, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return models.VideoAsset{}, errors.New("title cannot be empty")
		}
		asset.Title = title
	}
	if patch.TranscodingStatus != nil {
		if !patch.TranscodingStatus.Valid() {
			return models.VideoAsset{}, fmt.Errorf("invalid transcodingStatus %q", *patch.TranscodingStatus)
		}
		asset.TranscodingStatus = *patch.TranscodingStatus
	}
	if patch.IsTranscoded != nil {
		asset.IsTranscoded = *patch.IsTranscoded
	}
	if patch.RenditionMap != nil {
		asset.RenditionMap = append(models.RenditionMap(nil), (*patch.RenditionMap)...)
	}
	if patch.OriginalResolution != nil {
		resolution := *patch.OriginalResolution
		asset.OriginalResolution = &resolution
	}
	if patch.Duration != nil {
		asset.Duration = *patch.Duration
	}
	if patch.RawAssetRef != nil {
		asset.RawAssetRef = *patch.RawAssetRef
	}
	asset.UpdatedAt = time.Now().UTC()
	return asset, nil
}

func (s *JSONStore) PatchAsset(ctx context.Context, id string, patch AssetPatch) (models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	asset, ok := updatedData.Assets[id]
	if !ok {
		return models.VideoAsset{}, ErrNotFound
	}

	updated, err := applyPatch(asset, patch)
	if err != nil {
		return models.VideoAsset{}, err
	}

	updatedData.Assets[id] = updated
	if err := s.persistDataset(updatedData); err != nil {
		return models.VideoAsset{}, err
	}

	s.data = updatedData
	return updated.Clone(), nil
}

func (s *JSONStore) BeginProcessing(ctx context.Context, id string) (models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	asset, ok := updatedData.Assets[id]
	if !ok {
		return models.VideoAsset{}, ErrNotFound
	}
	if asset.TranscodingStatus == models.TranscodingProcessing || asset.IsTranscoded {
		return models.VideoAsset{}, ErrIneligible
	}

	asset.TranscodingStatus = models.TranscodingProcessing
	asset.UpdatedAt = time.Now().UTC()
	updatedData.Assets[id] = asset

	if err := s.persistDataset(updatedData); err != nil {
		return models.VideoAsset{}, err
	}

	s.data = updatedData
	return asset.Clone(), nil
}

func (s *JSONStore) Close(ctx context.Context) error {
	return nil
}
