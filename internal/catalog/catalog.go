// Package catalog persists video asset records and mediates every status
// transition of the transcoding lifecycle.
package catalog

import (
	"context"
	"errors"

	"createcollab/internal/models"
)

var (
	// ErrNotFound is returned when no asset exists for the given id.
	ErrNotFound = errors.New("asset not found")
	// ErrIneligible is returned when an asset cannot accept a new
	// transcoding job in its current state.
	ErrIneligible = errors.New("asset not eligible for transcoding")
)

// CreateAssetParams captures the attributes set when registering an upload.
type CreateAssetParams struct {
	Title       string
	RawAssetRef string
}

// AssetPatch lists the fields a partial update can modify. Nil fields are
// left untouched.
type AssetPatch struct {
	Title              *string
	TranscodingStatus  *models.TranscodingStatus
	IsTranscoded       *bool
	RenditionMap       *models.RenditionMap
	OriginalResolution *models.Resolution
	Duration           *string
	RawAssetRef        *string
}

// Store is the catalog persistence contract. Implementations must apply
// each patch atomically with respect to concurrent callers.
type Store interface {
	CreateAsset(ctx context.Context, params CreateAssetParams) (models.VideoAsset, error)
	GetAsset(ctx context.Context, id string) (models.VideoAsset, error)
	ListAssets(ctx context.Context) ([]models.VideoAsset, error)
	PatchAsset(ctx context.Context, id string, patch AssetPatch) (models.VideoAsset, error)
	// BeginProcessing atomically moves the asset from an eligible state to
	// processing. It returns ErrIneligible when the asset is already
	// processing or already transcoded, so two concurrent job submissions
	// cannot both claim the same asset.
	BeginProcessing(ctx context.Context, id string) (models.VideoAsset, error)
	// ListByStatus returns assets currently in the given status, used for
	// recovery scans at startup.
	ListByStatus(ctx context.Context, status models.TranscodingStatus) ([]models.VideoAsset, error)
	Close(ctx context.Context) error
}
