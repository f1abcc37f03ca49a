package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/model"
)

// Bulk add modes.
const (
	bulkModeStages    = "stages"
	bulkModeSubstages = "substages"
)

func handleListRecords(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		records, err := s.Records()
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"records":  records,
			"selected": s.Info().Selected,
		})
	}
}

func handleGetRecord(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		rec, err := s.Record(chi.URLParam(r, "key"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleAddRecord(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var body struct {
			StageID    int64 `json:"stage_id"`
			SubstageID int64 `json:"substage_id"`
		}
		if err := decodeJSON(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		rec, err := s.AddOne(body.StageID, body.SubstageID)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, rec)
	}
}

// handleBulkAdd adds whole stages (mode "stages") or several substages of
// one stage (mode "substages").
func handleBulkAdd(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var body struct {
			Mode    string  `json:"mode"`
			StageID int64   `json:"stage_id"`
			IDs     []int64 `json:"ids"`
		}
		if err := decodeJSON(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		var added int
		switch body.Mode {
		case bulkModeStages:
			added, err = s.AddStages(body.IDs)
		case bulkModeSubstages:
			added, err = s.AddSubstages(body.StageID, body.IDs)
		default:
			WriteValidationError(w, []model.FieldError{{
				Field:   "mode",
				Code:    "INVALID",
				Message: "mode must be " + bulkModeStages + " or " + bulkModeSubstages,
			}})
			return
		}
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]int{"added": added})
	}
}

func handleRemoveStages(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var body struct {
			StageIDs []int64 `json:"stage_ids"`
		}
		if err := decodeJSON(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		removed, err := s.RemoveStages(body.StageIDs)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func handleRemoveRecord(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		if err := s.Remove(chi.URLParam(r, "key")); err != nil {
			writeRequestError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDuplicateRecord copies a record into another stage. Without a
// stage_id the copy stays in the source stage.
func handleDuplicateRecord(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var body struct {
			StageID int64 `json:"stage_id"`
		}
		if err := decodeJSON(r, &body, true); err != nil {
			writeRequestError(w, r, err)
			return
		}

		rec, err := s.Duplicate(chi.URLParam(r, "key"), body.StageID)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, rec)
	}
}

func handlePatchRecord(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var edit composer.RecordEdit
		if err := decodeJSON(r, &edit, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		rec, err := s.UpdateRecord(chi.URLParam(r, "key"), edit)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleDependencyOptions(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		opts, err := s.DependencyOptions(chi.URLParam(r, "key"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"options": opts})
	}
}

func handleSetDependency(sessions *composer.Manager, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		raw := chi.URLParam(r, "sequence")
		sequence, err := strconv.Atoi(raw)
		if err != nil || sequence <= 0 {
			writeRequestError(w, r, model.NewBadRequestError("invalid sequence: "+raw))
			return
		}

		if err := s.SetDependency(chi.URLParam(r, "key"), sequence, enabled); err != nil {
			writeRequestError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSelect(sessions *composer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFrom(sessions, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		var body struct {
			Key string `json:"key"`
		}
		if err := decodeJSON(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		if err := s.Select(body.Key); err != nil {
			writeRequestError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
