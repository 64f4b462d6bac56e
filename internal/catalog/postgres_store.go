package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"createcollab/internal/models"
)

// PostgresConfig describes how the Postgres catalog initialises its
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

// PostgresStore persists the catalog in a video_assets table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createAssetsTable = `
CREATE TABLE IF NOT EXISTS video_assets (
    id                 TEXT PRIMARY KEY,
    title              TEXT NOT NULL,
    raw_asset_ref      TEXT NOT NULL DEFAULT '',
    rendition_map      JSONB,
    original_width     INTEGER,
    original_height    INTEGER,
    transcoding_status TEXT NOT NULL DEFAULT 'pending',
    is_transcoded      BOOLEAN NOT NULL DEFAULT FALSE,
    duration           TEXT NOT NULL DEFAULT '',
    uploaded_at        TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore opens the pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createAssetsTable); err != nil {
		return fmt.Errorf("ensure video_assets table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const assetColumns = `id, title, raw_asset_ref, rendition_map, original_width, original_height,
	transcoding_status, is_transcoded, duration, uploaded_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanAsset(row scannable) (models.VideoAsset, error) {
	var (
		asset         models.VideoAsset
		renditionJSON []byte
		width, height *int
		status        string
	)
	err := row.Scan(&asset.ID, &asset.Title, &asset.RawAssetRef, &renditionJSON, &width, &height,
		&status, &asset.IsTranscoded, &asset.Duration, &asset.UploadedAt, &asset.UpdatedAt)
	if err != nil {
		return models.VideoAsset{}, err
	}
	asset.TranscodingStatus = models.TranscodingStatus(status)
	if len(renditionJSON) > 0 {
		if err := json.Unmarshal(renditionJSON, &asset.RenditionMap); err != nil {
			return models.VideoAsset{}, fmt.Errorf("decode rendition map: %w", err)
		}
	}
	if width != nil && height != nil {
		asset.OriginalResolution = &models.Resolution{Width: *width, Height: *height}
	}
	return asset, nil
}

func (s *PostgresStore) CreateAsset(ctx context.Context, params CreateAssetParams) (models.VideoAsset, error) {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO video_assets (id, title, raw_asset_ref, transcoding_status, is_transcoded, duration, uploaded_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, '', $5, $5)`,
		asset.ID, asset.Title, asset.RawAssetRef, string(asset.TranscodingStatus), now)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("insert asset: %w", err)
	}
	return asset, nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (models.VideoAsset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE id = $1`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, ErrNotFound
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]models.VideoAsset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM video_assets ORDER BY uploaded_at`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	return collectAssets(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.TranscodingStatus) ([]models.VideoAsset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE transcoding_status = $1 ORDER BY uploaded_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list assets by status: %w", err)
	}
	defer rows.Close()
	return collectAssets(rows)
}

func collectAssets(rows pgx.Rows) ([]models.VideoAsset, error) {
	assets := make([]models.VideoAsset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

func (s *PostgresStore) PatchAsset(ctx context.Context, id string, patch AssetPatch) (models.VideoAsset, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return models.VideoAsset{}, errors.New("title cannot be empty")
		}
		addSet("title", title)
	}
	if patch.TranscodingStatus != nil {
		if !patch.TranscodingStatus.Valid() {
			return models.VideoAsset{}, fmt.Errorf("invalid transcodingStatus %q", *patch.TranscodingStatus)
		}
		addSet("transcoding_status", string(*patch.TranscodingStatus))
	}
	if patch.IsTranscoded != nil {
		addSet("is_transcoded", *patch.IsTranscoded)
	}
	if patch.RenditionMap != nil {
		encoded, err := json.Marshal(*patch.RenditionMap)
		if err != nil {
			return models.VideoAsset{}, fmt.Errorf("encode rendition map: %w", err)
		}
		addSet("rendition_map", encoded)
	}
	if patch.OriginalResolution != nil {
		addSet("original_width", patch.OriginalResolution.Width)
		addSet("original_height", patch.OriginalResolution.Height)
	}
	if patch.Duration != nil {
		addSet("duration", *patch.Duration)
	}
	if patch.RawAssetRef != nil {
		addSet("raw_asset_ref", *patch.RawAssetRef)
	}

	addSet("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE video_assets SET %s WHERE id = $%d RETURNING `+assetColumns,
		strings.Join(sets, ", "), len(args))

	row := s.pool.QueryRow(ctx, query, args...)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, ErrNotFound
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("patch asset: %w", err)
	}
	return asset, nil
}

// BeginProcessing is a single conditional UPDATE so only one caller can move
// the asset into processing.
func (s *PostgresStore) BeginProcessing(ctx context.Context, id string) (models.VideoAsset, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE video_assets
		SET transcoding_status = $1, updated_at = $2
		WHERE id = $3 AND transcoding_status <> $1 AND NOT is_transcoded
		RETURNING `+assetColumns,
		string(models.TranscodingProcessing), time.Now().UTC(), id)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing asset from an ineligible one.
		if _, getErr := s.GetAsset(ctx, id); errors.Is(getErr, ErrNotFound) {
			return models.VideoAsset{}, ErrNotFound
		}
		return models.VideoAsset{}, ErrIneligible
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("begin processing: %w", err)
	}
	return asset, nil
}
