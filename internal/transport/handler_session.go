package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/internal/observability"
	"github.com/pitabwire/composer/model"
)

type loadRequest struct {
	InstanceID    string `json:"instance_id"`
	ApplicationID int64  `json:"application_id"`
}

type sessionResponse struct {
	Session composer.Info        `json:"session"`
	Load    *composer.LoadResult `json:"load,omitempty"`
}

// sessionFrom resolves the {sessionId} path parameter within the caller's
// tenant.
func sessionFrom(sessions *composer.Manager, r *http.Request) (*composer.Session, error) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		return nil, model.NewUnauthorizedError("missing request context")
	}
	return sessions.Get(rctx.TenantID, chi.URLParam(r, "sessionId"))
}

// handleOpenSession opens a session and loads the requested instance into
// it. A session whose first load fails is closed again.
func handleOpenSession(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body loadRequest
		if err := decodeJSON(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		s := sessions.Open(rctx.TenantID)
		res, err := s.Load(r.Context(), body.InstanceID, body.ApplicationID)
		if err != nil {
			if cerr := sessions.Close(rctx.TenantID, s.ID); cerr != nil {
				observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("closing failed session",
					zap.String("session_id", s.ID),
					zap.Error(cerr),
				)
			}
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, sessionResponse{Session: s.Info(), Load: &res})
	}
}

func handleGetSession(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, sessionResponse{Session: s.Info()})
	}
}

func handleCloseSession(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		if err := sessions.Close(rctx.TenantID, chi.URLParam(r, "sessionId")); err != nil {
			writeRequestError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleLoadSession reloads a session, possibly with another instance. A
// load superseded by a later one answers 409 and changes nothing.
func handleLoadSession(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var body loadRequest
		if err := decodeJSON(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		res, err := s.Load(r.Context(), body.InstanceID, body.ApplicationID)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		status := http.StatusOK
		if res.Stale {
			status = http.StatusConflict
		}
		WriteJSON(w, status, sessionResponse{Session: s.Info(), Load: &res})
	}
}

func handleGetPayload(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		payload, err := s.Payload()
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"records": payload})
	}
}

func handleSaveSession(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		res, err := s.Save(r.Context())
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
