package models

import "time"

// TranscodingStatus tracks a video asset through the publishing pipeline.
type TranscodingStatus string

const (
	TranscodingPending    TranscodingStatus = "pending"
	TranscodingProcessing TranscodingStatus = "processing"
	TranscodingCompleted  TranscodingStatus = "completed"
	TranscodingFailed     TranscodingStatus = "failed"
)

// Terminal reports whether the status is a final pipeline outcome.
func (s TranscodingStatus) Terminal() bool {
	return s == TranscodingCompleted || s == TranscodingFailed
}

// Valid reports whether the status is one of the four pipeline states.
func (s TranscodingStatus) Valid() bool {
	switch s {
	case TranscodingPending, TranscodingProcessing, TranscodingCompleted, TranscodingFailed:
		return true
	}
	return false
}

// Resolution is a pixel dimension pair as reported by the source probe.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RenditionManifest binds a ladder tier name to the storage reference of its
// published playlist.
type RenditionManifest struct {
	Name        string `json:"name"`
	ManifestRef string `json:"manifestRef"`
}

// RenditionMap is the ordered set of published renditions for an asset.
// Insertion order is descending resolution, matching the planned ladder.
type RenditionMap []RenditionManifest

// Ref returns the manifest storage reference recorded for the named tier.
func (m RenditionMap) Ref(name string) (string, bool) {
	for _, entry := range m {
		if entry.Name == name {
			return entry.ManifestRef, true
		}
	}
	return "", false
}

// Names returns the tier names in insertion order.
func (m RenditionMap) Names() []string {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for _, entry := range m {
		names = append(names, entry.Name)
	}
	return names
}

// VideoAsset is the catalog record for one uploaded source video and its
// published streaming representation.
type VideoAsset struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	RawAssetRef        string            `json:"rawAssetRef,omitempty"`
	RenditionMap       RenditionMap      `json:"renditionMap,omitempty"`
	OriginalResolution *Resolution       `json:"originalResolution,omitempty"`
	TranscodingStatus  TranscodingStatus `json:"transcodingStatus"`
	IsTranscoded       bool              `json:"isTranscoded"`
	Duration           string            `json:"duration,omitempty"`
	UploadedAt         time.Time         `json:"uploadedAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing store-owned state.
func (a VideoAsset) Clone() VideoAsset {
	cloned := a
	if a.RenditionMap != nil {
		cloned.RenditionMap = append(RenditionMap(nil), a.RenditionMap...)
	}
	if a.OriginalResolution != nil {
		resolution := *a.OriginalResolution
		cloned.OriginalResolution = &resolution
	}
	return cloned
}
