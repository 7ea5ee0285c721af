package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"grcflow/internal/models"
	"grcflow/internal/services"
)

func newEscalationTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openHandlerTestDB(t)
	if err := db.AutoMigrate(&models.EscalationLevel{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	svc := services.NewEscalationService(db, logger)

	r := gin.New()
	api := r.Group("/api/v1")
	RegisterEscalationRoutes(api, NewEscalationHandler(svc))
	return r
}

func TestEscalationHandler_LadderLifecycle(t *testing.T) {
	r := newEscalationTestRouter(t)

	// Create two rungs
	for level, role := range map[int]string{1: "team_lead", 2: "department_head"} {
		w := doJSON(t, r, http.MethodPost, "/api/v1/escalation-levels", map[string]any{
			"entity_type":      "incident",
			"level":            level,
			"escalate_to_role": role,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create level %d status=%d body=%s", level, w.Code, w.Body.String())
		}
	}

	// Duplicate level conflicts
	w := doJSON(t, r, http.MethodPost, "/api/v1/escalation-levels", map[string]any{
		"entity_type":      "incident",
		"level":            1,
		"escalate_to_role": "someone",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d body=%s", w.Code, w.Body.String())
	}

	// List ordered by level
	w = doJSON(t, r, http.MethodGet, "/api/v1/escalation-levels?entity_type=incident", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body.String())
	}
	var levels []models.EscalationLevel
	if err := json.Unmarshal(w.Body.Bytes(), &levels); err != nil {
		t.Fatalf("unmarshal: %v body=%s", err, w.Body.String())
	}
	if len(levels) != 2 || levels[0].Level != 1 || levels[1].Level != 2 {
		t.Fatalf("levels = %+v", levels)
	}

	// Delete
	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/escalation-levels/%d", levels[0].ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/escalation-levels/%d", levels[0].ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestEscalationHandler_CreateLevel_Invalid(t *testing.T) {
	r := newEscalationTestRouter(t)

	// missing target
	w := doJSON(t, r, http.MethodPost, "/api/v1/escalation-levels", map[string]any{
		"entity_type": "incident",
		"level":       1,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	// unknown entity type
	w = doJSON(t, r, http.MethodPost, "/api/v1/escalation-levels", map[string]any{
		"entity_type":      "spaceship",
		"level":            1,
		"escalate_to_role": "x",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
