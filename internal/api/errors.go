package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/session"
	"github.com/Lllllllleong/accreditationplan/internal/sheet"
	"github.com/Lllllllleong/accreditationplan/internal/store"
	"github.com/Lllllllleong/accreditationplan/internal/textgen"
)

type errorBody struct {
	Error   string          `json:"error"`
	Field   string          `json:"field,omitempty"`
	Notices []models.Notice `json:"notices,omitempty"`
}

func jsonError(w http.ResponseWriter, msg, field string, code int) {
	writeJSON(w, code, errorBody{Error: msg, Field: field})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		remote *textgen.RemoteError
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrNoFileName):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCannotProcess), errors.Is(err, sheet.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNoPlan), errors.Is(err, session.ErrStale):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, models.ErrItemNotFound):
		return http.StatusNotFound
	case textgen.IsCredentialError(err):
		return http.StatusUnauthorized
	case errors.Is(err, textgen.ErrNetwork), errors.Is(err, textgen.ErrMalformedResponse), errors.As(err, &remote):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError reports err with the message the session queued for it. Other
// queued notices ride along so nothing is shown twice.
func writeError(w http.ResponseWriter, s *session.Session, err error) {
	n := session.NoticeFor(err)
	body := errorBody{Error: n.Message, Field: n.Field}
	if s != nil {
		for _, queued := range s.Notices() {
			if queued != n {
				body.Notices = append(body.Notices, queued)
			}
		}
	}
	writeJSON(w, statusFor(err), body)
}
