package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
)

type folderResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	ParentID  *string   `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	FolderID    string    `json:"folder_id"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	DownloadURL string    `json:"download_url"`
}

type contentsResponse struct {
	folderResponse
	Subfolders []folderResponse `json:"subfolders"`
	Files      []fileResponse   `json:"files"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toFolder(f *models.Folder) folderResponse {
	return folderResponse{
		ID:        f.ID,
		Name:      f.Name,
		Path:      f.VirtualPath,
		ParentID:  f.ParentID,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func toFolders(in []*models.Folder) []folderResponse {
	out := make([]folderResponse, 0, len(in))
	for _, f := range in {
		out = append(out, toFolder(f))
	}
	return out
}

func toFile(f *models.File) fileResponse {
	return fileResponse{
		ID:          f.ID,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Size:        f.SizeBytes,
		FolderID:    f.FolderID,
		Path:        f.VirtualPath,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
		DownloadURL: f.DownloadRef,
	}
}

func toContents(c *models.FolderContents) contentsResponse {
	files := make([]fileResponse, 0, len(c.Files))
	for _, f := range c.Files {
		files = append(files, toFile(f))
	}
	return contentsResponse{
		folderResponse: toFolder(c.Folder),
		Subfolders:     toFolders(c.Subfolders),
		Files:          files,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch common.Kind(err) {
	case common.ErrNotFound:
		return http.StatusNotFound
	case common.ErrInvalidName:
		return http.StatusBadRequest
	case common.ErrPathConflict:
		return http.StatusConflict
	case common.ErrCycle:
		return http.StatusUnprocessableEntity
	case common.ErrInvariantViolation:
		return http.StatusForbidden
	case common.ErrTransaction:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := statusOf(err)
	kind := common.KindName(err)
	detail := err.Error()

	switch {
	case code == http.StatusRequestEntityTooLarge:
		kind = "too_large"
	case kind == "internal":
		detail = "internal error"
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", "kind", kind, "error", err)
	} else {
		s.logger.Info(ctx, "request rejected", "kind", kind, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: kind, Detail: detail})
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Detail: detail})
}
