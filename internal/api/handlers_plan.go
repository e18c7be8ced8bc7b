package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/accreditationplan/internal/export"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/sheet"
	"github.com/Lllllllleong/accreditationplan/internal/textgen"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	resp := sess.Snapshot()
	resp.Notices = sess.Notices()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	docs, err := sess.List(r.Context())
	if err != nil {
		s.log.Error("Failed to list plans.", "user", userFrom(r.Context()), "error", err)
		writeError(w, sess, err)
		return
	}
	if docs == nil {
		docs = []models.DocSummary{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	// extra 1MB for form overhead
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, sess, err)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), "", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), "file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := fileName(header.Filename)
	if !sheet.IsSupported(name) {
		err := fmt.Errorf("%w: %s", sheet.ErrUnsupportedFormat, filepath.Ext(name))
		writeError(w, sess, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", "file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.maxUploadBytes), "file", http.StatusRequestEntityTooLarge)
		return
	}

	resp, err := sess.Upload(r.Context(), name, data)
	if err != nil {
		writeError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	var req models.OpenRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := sess.Open(r.Context(), req.FileName)
	if err != nil {
		writeError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	var patch models.ItemPatch
	if !decode(w, r, &patch) {
		return
	}
	it, err := sess.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), patch)
	if err != nil {
		writeError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleGenerateItem(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	_, kind, ok := itemKind(w, r)
	if !ok {
		return
	}
	resp, err := sess.GenerateItem(r.Context(), chi.URLParam(r, "itemID"), kind)
	if err != nil {
		writeError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	req, kind, ok := itemKind(w, r)
	if !ok {
		return
	}
	logCtx := s.log.With("user", userFrom(r.Context()), "kind", string(kind))
	resp, err := sess.GenerateAll(r.Context(), kind, req.Overwrite, func(p textgen.Progress) {
		logCtx.Debug("Batch progress.", "current", p.Current, "total", p.Total, "message", p.Message)
	})
	if err != nil {
		writeError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	resp, err := sess.GenerateSummary(r.Context())
	if err != nil {
		writeError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	data, name, err := sess.Export(r.Context())
	if err != nil {
		writeError(w, sess, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// itemKind reads an optional GenerateRequest body. An empty body or kind
// means evidence title; the summary kind is rejected.
func itemKind(w http.ResponseWriter, r *http.Request) (models.GenerateRequest, textgen.Kind, bool) {
	var req models.GenerateRequest
	if !decodeBody(w, r, &req, true) {
		return req, "", false
	}
	kind, err := textgen.ParseKind(req.Kind)
	if err == nil {
		if _, applies := kind.Target(); !applies {
			err = fmt.Errorf("kind %q does not apply to items", kind)
		}
	}
	if err != nil {
		jsonError(w, err.Error(), "kind", http.StatusBadRequest)
		return req, "", false
	}
	return req, kind, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	jsonError(w, "invalid JSON body: "+err.Error(), "", http.StatusBadRequest)
	return false
}

// fileName keeps only the base name the browser sent.
func fileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimSpace(filepath.Base(name))
}
