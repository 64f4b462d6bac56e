// Package api exposes the HTTP surface of the publishing pipeline: asset
// intake, job submission, catalog reads, and media retrieval.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"createcollab/internal/catalog"
	"createcollab/internal/objectstore"
)

// maxUploadBytes caps raw source uploads at 8 GiB.
const maxUploadBytes = 8 << 30

// Dispatcher accepts transcoding job submissions for catalog assets. A
// non-empty sourceRef replaces the asset's stored raw source, applied only if
// the submission is accepted.
type Dispatcher interface {
	Dispatch(ctx context.Context, assetID, sourceRef string) (accepted bool, reason string, err error)
}

type Handler struct {
	Store      catalog.Store
	Objects    objectstore.Store
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func NewHandler(store catalog.Store, objects objectstore.Store, dispatcher Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Objects: objects, Dispatcher: dispatcher, Logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Assets routes /api/assets: POST registers an upload, GET lists the catalog.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAsset(w, r)
	case http.MethodGet:
		h.listAssets(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// AssetByID handles GET /api/assets/{id}.
func (h *Handler) AssetByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/assets/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("asset id is required"))
		return
	}
	asset, err := h.Store.GetAsset(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Store.ListAssets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *Handler) createAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("file field is required"))
		return
	}
	defer file.Close()

	if !isVideoUpload(header) {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Errorf("%s is not a supported video format", header.Filename))
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	body, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("uploaded file is empty"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	rawRef, err := h.Objects.Put(r.Context(), contentType, body)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("store raw source: %w", err))
		return
	}

	asset, err := h.Store.CreateAsset(r.Context(), catalog.CreateAssetParams{
		Title:       title,
		RawAssetRef: rawRef,
	})
	if err != nil {
		// The raw object is orphaned otherwise.
		if deleteErr := h.Objects.Delete(r.Context(), rawRef); deleteErr != nil {
			h.Logger.Warn("failed to remove raw source after catalog error", "ref", rawRef, "error", deleteErr)
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.Logger.Info("asset registered", "asset_id", asset.ID, "title", asset.Title, "bytes", len(body))
	writeJSON(w, http.StatusCreated, asset)
}

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
}

func isVideoUpload(header *multipart.FileHeader) bool {
	if contentType := header.Header.Get("Content-Type"); strings.HasPrefix(contentType, "video/") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	_, ok := videoExtensions[ext]
	return ok
}

// isVideoObject mirrors the upload heuristic for already-stored objects,
// where only the recorded media type is available. Octet-stream passes
// because intake stores extension-recognized containers without a declared
// type that way.
func isVideoObject(contentType string) bool {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	return strings.HasPrefix(contentType, "video/")
}

type transcodeJobRequest struct {
	AssetID string `json:"assetId"`
	// SourceStorageID optionally points the asset at a raw source uploaded
	// out of band. It is applied only if the submission is accepted.
	SourceStorageID string `json:"sourceStorageId,omitempty"`
}

type transcodeJobResponse struct {
	AssetID  string `json:"assetId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// TranscodeJobs handles POST /api/transcode/jobs. Accepted submissions run
// asynchronously; the response only confirms the claim.
func (h *Handler) TranscodeJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req transcodeJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assetID := strings.TrimSpace(req.AssetID)
	if assetID == "" {
		writeError(w, http.StatusBadRequest, errors.New("assetId is required"))
		return
	}
	sourceRef := strings.TrimSpace(req.SourceStorageID)
	if sourceRef != "" {
		object, err := h.Objects.Get(r.Context(), sourceRef)
		if errors.Is(err, objectstore.ErrNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("sourceStorageId %q does not resolve to a stored object", sourceRef))
			return
		}
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Errorf("resolve source object: %w", err))
			return
		}
		if !isVideoObject(object.ContentType) {
			writeError(w, http.StatusUnsupportedMediaType, fmt.Errorf("source object %q is not a video", sourceRef))
			return
		}
	}

	accepted, reason, err := h.Dispatcher.Dispatch(r.Context(), assetID, sourceRef)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !accepted {
		writeJSON(w, http.StatusConflict, transcodeJobResponse{AssetID: assetID, Accepted: false, Reason: reason})
		return
	}
	writeJSON(w, http.StatusAccepted, transcodeJobResponse{AssetID: assetID, Accepted: true})
}

// Media handles GET /api/media?id={storageId}, resolving indirection
// references from rewritten manifests to the stored bytes.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("id query parameter is required"))
		return
	}
	object, err := h.Objects.Get(r.Context(), id)
	if errors.Is(err, objectstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	contentType := object.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(object.Body)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, err := io.Copy(w, bytes.NewReader(object.Body)); err != nil {
		h.Logger.Warn("media response interrupted", "id", id, "error", err)
	}
}
