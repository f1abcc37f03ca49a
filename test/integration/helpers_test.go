package integration

import (
	"net/http"
	"testing"

	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/model"
)

type sessionBody struct {
	Session composer.Info        `json:"session"`
	Load    *composer.LoadResult `json:"load"`
}

type recordsBody struct {
	Records  []model.ConfigRecord `json:"records"`
	Selected string               `json:"selected"`
}

type treeBody struct {
	Stages []model.StageNode `json:"stages"`
}

// openSession opens a session for id and loads the instance into it.
func openSession(t *testing.T, h *TestHarness, id Identity, instanceID string, appID int64) sessionBody {
	t.Helper()
	var body sessionBody
	resp := h.POST("/api/v1/sessions", map[string]any{"instance_id": instanceID, "application_id": appID}, id)
	h.AssertJSON(t, resp, http.StatusCreated, &body)
	if body.Session.ID == "" {
		t.Fatal("session id is empty")
	}
	return body
}

func listRecords(t *testing.T, h *TestHarness, id Identity, sessionID string) recordsBody {
	t.Helper()
	var body recordsBody
	h.AssertJSON(t, h.GET("/api/v1/sessions/"+sessionID+"/records", id), http.StatusOK, &body)
	return body
}

func sessionPath(sessionID, suffix string) string {
	return "/api/v1/sessions/" + sessionID + suffix
}
