package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createFolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type updateFolderRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parent_id"`
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	f, err := s.folders.Create(r.Context(), req.ParentID, req.Name)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFolder(f))
}

// listFolders returns the roots, or the single folder at ?path= when given.
func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	if p := r.URL.Query().Get("path"); p != "" {
		f, err := s.folders.GetByPath(r.Context(), p)
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, toFolder(f))
		return
	}

	roots, err := s.folders.Roots(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFolders(roots))
}

func (s *Server) getFolder(w http.ResponseWriter, r *http.Request) {
	f, err := s.folders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFolder(f))
}

func (s *Server) folderContents(w http.ResponseWriter, r *http.Request) {
	c, err := s.folders.Contents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContents(c))
}

func (s *Server) updateFolder(w http.ResponseWriter, r *http.Request) {
	var req updateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Name == nil && req.ParentID == nil {
		writeBadRequest(w, "no update parameters provided")
		return
	}

	var name, parentID string
	if req.Name != nil {
		if *req.Name == "" {
			writeBadRequest(w, "name must not be empty")
			return
		}
		name = *req.Name
	}
	if req.ParentID != nil {
		if *req.ParentID == "" {
			writeBadRequest(w, "parent_id must not be empty")
			return
		}
		parentID = *req.ParentID
	}

	f, err := s.folders.Relocate(r.Context(), chi.URLParam(r, "id"), parentID, name)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFolder(f))
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.folders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Folder deleted successfully"})
}
