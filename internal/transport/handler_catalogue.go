package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/composer/model"
)

func handleListApplications(cats CatalogueSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"applications": cats.Applications(),
		})
	}
}

func handleGetCatalogue(cats CatalogueSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, err := int64Param(r, "appId")
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		cat, err := cats.Metadata(r.Context(), appID)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, cat)
	}
}

// int64Param parses a positive integer path parameter.
func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, model.NewBadRequestError("invalid " + name + ": " + raw)
	}
	return v, nil
}
