package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/pathx"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
	"github.com/go-chi/chi/v5"
)

const uploadField = "file"

type updateFileRequest struct {
	Name     *string `json:"name"`
	FolderID *string `json:"folder_id"`
}

// uploadFile streams the "file" part of a multipart body into the engine
// without buffering it in memory or on disk first.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")
	if folderID == "" {
		writeBadRequest(w, "folder_id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if s.config.UploadTimeout > 0 {
		// a stalled client must not keep the body read blocked past the
		// storage step that consumes it
		rc := http.NewResponseController(w)
		if err := rc.SetReadDeadline(time.Now().Add(s.config.UploadTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.writeError(r.Context(), w, err)
			return
		}
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeBadRequest(w, "multipart body expected")
		return
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(r.Context(), w, err)
				return
			}
			writeBadRequest(w, fmt.Sprintf("multipart field %q is required", uploadField))
			return
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}

		f, err := s.files.Upload(r.Context(), folderID, part.FileName(), partMimeType(part.Header.Get("Content-Type")), part)
		if err != nil {
			// a timed out write may still be reading part, so it is left alone
			s.writeError(r.Context(), w, err)
			return
		}
		part.Close()
		writeJSON(w, http.StatusCreated, toFile(f))
		return
	}
}

// partMimeType returns the declared type of an upload, or "" to have it
// detected from the content when the client sent nothing specific.
func partMimeType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return header
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.files.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFile(f))
}

// updateFile moves the file first when folder_id is given, then renames it.
// The new name is validated up front; a rename that still fails on a conflict
// in the destination leaves the move in place.
func (s *Server) updateFile(w http.ResponseWriter, r *http.Request) {
	var req updateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Name == nil && req.FolderID == nil {
		writeBadRequest(w, "no update parameters provided")
		return
	}
	if req.Name != nil {
		if err := pathx.ValidateName(*req.Name); err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
	}

	var (
		id  = chi.URLParam(r, "id")
		f   *models.File
		err error
	)
	if req.FolderID != nil {
		f, err = s.files.Move(r.Context(), id, *req.FolderID)
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
	}
	if req.Name != nil {
		f, err = s.files.Rename(r.Context(), id, *req.Name)
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toFile(f))
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.files.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if !deleted {
		s.writeError(r.Context(), w, fmt.Errorf("file: %w", common.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "File deleted successfully"})
}
