package transport

import (
	"net/http"

	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/model"
)

func handleGetTree(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		tree, err := s.Tree()
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"stages": tree})
	}
}

func handleSetExpanded(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		stageID, err := int64Param(r, "stageId")
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var body struct {
			Expanded bool `json:"expanded"`
		}
		if err := decodeJSON(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		if err := s.SetExpanded(stageID, body.Expanded); err != nil {
			writeRequestError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleReorder applies a drag result and answers with the outcome and the
// tree as it now stands.
func handleReorder(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var drag model.DragResult
		if err := decodeJSON(r, &drag, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		res, err := s.Reorder(drag)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		tree, err := s.Tree()
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"moved":                res.Moved,
			"dropped_dependencies": res.DroppedDependencies,
			"stages":               tree,
		})
	}
}
