package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/jrsteele09/go-store-claimer/escalation"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
)

const visitedPage = `<!doctype html><html><head><meta charset="utf-8"><title>Done</title></head>` +
	`<body><p>Thanks. The claimer has been told and will carry on.</p></body></html>`

// VisitHandler handles a human opening an action link: redirect to where the action
// happens, or confirm when the visit itself was the action.
func (s *Server) VisitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		target, err := s.escalations.Visit(token)
		if err != nil {
			s.notFound(w, token, err)
			return
		}
		if target == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, visitedPage)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// CallbackHandler resolves an escalation with the request body, for example a device
// token JSON or a solved captcha response. Form posts resolve with their "token" field.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

		contentType := r.Header.Get("Content-Type")
		mediaType, _, _ := mime.ParseMediaType(contentType)
		var body []byte
		if mediaType == "application/x-www-form-urlencoded" {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "Invalid form", http.StatusBadRequest)
				return
			}
			body = []byte(r.PostForm.Get("token"))
		} else {
			var err error
			if body, err = io.ReadAll(r.Body); err != nil {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
		}

		err := s.escalations.Resolve(token, escalation.Payload{
			Source:      escalation.SourceCallback,
			ContentType: mediaType,
			Body:        body,
		})
		if err != nil {
			s.notFound(w, token, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Accepted\n")
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pendingEscalations"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Pending: s.escalations.PendingCount()})
	}
}

// notFound answers unknown, expired and already used tokens alike.
func (s *Server) notFound(w http.ResponseWriter, token string, err error) {
	if !apperrors.Is(err, apperrors.ErrEscalationNotFound) {
		s.logger.Error().Err(err).Msg("resolving escalation")
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.logger.Info().Str("token", token).Msg("unknown or finished escalation link")
	http.Error(w, "404 - This link has expired or was already used", http.StatusNotFound)
}
