package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phaseplanner/internal/handler"
	"phaseplanner/internal/model"
	"phaseplanner/internal/schedule"
	"phaseplanner/internal/service/planning"
	"phaseplanner/pkg/outbox"
	"phaseplanner/pkg/rbac"
	"phaseplanner/pkg/trace"
	"phaseplanner/pkg/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubService struct {
	err        error
	checked    []schedule.Day
	patch      model.PhasePatch
	depInput   planning.DependencyInput
	fixProject int
}

func (s *stubService) Phases(_ context.Context, projectID int) ([]model.Phase, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []model.Phase{{ID: 1, ProjectID: projectID, Name: "Design",
		StartDate: schedule.MustParseDay("2025-01-01"), EndDate: schedule.MustParseDay("2025-01-10")}}, nil
}

func (s *stubService) Dependencies(_ context.Context, _ int) ([]model.Dependency, error) {
	return []model.Dependency{}, s.err
}

func (s *stubService) Violations(_ context.Context, _ int) (schedule.ViolationMap, error) {
	if s.err != nil {
		return nil, s.err
	}
	return schedule.ViolationMap{2: {{PhaseID: 2, DependencyID: 10, Kind: schedule.ViolationIncoming, Message: "late"}}}, nil
}

func (s *stubService) CheckPhase(_ context.Context, phaseID int, start, end schedule.Day) (*planning.CheckResult, error) {
	s.checked = []schedule.Day{start, end}
	if s.err != nil {
		return nil, s.err
	}
	return &planning.CheckResult{
		Phase:      model.Phase{ID: phaseID},
		Violations: []schedule.Violation{},
		Suggestion: schedule.Correction{Start: start, End: end},
	}, nil
}

func (s *stubService) UpdatePhase(_ context.Context, phaseID int, patch model.PhasePatch) (*planning.UpdateResult, error) {
	s.patch = patch
	if s.err != nil {
		return nil, s.err
	}
	return &planning.UpdateResult{Phase: model.Phase{ID: phaseID}, Violations: []schedule.Violation{}}, nil
}

func (s *stubService) FixAll(_ context.Context, projectID int) (*planning.FixResult, error) {
	s.fixProject = projectID
	if s.err != nil {
		return nil, s.err
	}
	return &planning.FixResult{
		Updates: []schedule.PhaseUpdate{{ID: 2,
			NewStart: schedule.MustParseDay("2025-01-11"), NewEnd: schedule.MustParseDay("2025-01-14")}},
		Remaining: schedule.ViolationMap{},
	}, nil
}

func (s *stubService) CreateDependency(_ context.Context, in planning.DependencyInput) (*model.Dependency, error) {
	s.depInput = in
	if s.err != nil {
		return nil, s.err
	}
	return &model.Dependency{ID: 5, PredecessorID: in.PredecessorID, SuccessorID: in.SuccessorID,
		Type: schedule.FinishToStart}, nil
}

func (s *stubService) DeleteDependency(_ context.Context, _ int) error {
	return s.err
}

type stubOutbox struct{ replayed []int64 }

func (o *stubOutbox) ReplayFailedEvents(_ context.Context, limit int) (int, error) {
	return limit / 2, nil
}

func (o *stubOutbox) GetFailedEvents(_ context.Context, _ int) ([]*outbox.Event, error) {
	return nil, nil
}

func (o *stubOutbox) ReplayEvent(_ context.Context, id int64) error {
	if id == 404 {
		return fmt.Errorf("%w: %d", outbox.ErrEventNotFound, id)
	}
	o.replayed = append(o.replayed, id)
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestRouter(svc *stubService, secret string) *gin.Engine {
	ob := &stubOutbox{}
	return NewRouter(handler.NewPlanningHandler(svc, zap.NewNop()), zap.NewNop(), Options{
		JWTSecret: secret,
		DB:        pinger{},
		Outbox:    handler.NewOutboxHandler(ob, ob, zap.NewNop()),
	})
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	r := newTestRouter(&stubService{}, "")

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodHead, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", "").Code)

	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")

	down := NewRouter(handler.NewPlanningHandler(&stubService{}, zap.NewNop()), zap.NewNop(),
		Options{DB: pinger{err: errors.New("refused")}})
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/readyz", "").Code)
}

func TestTraceHeaderEchoed(t *testing.T) {
	r := newTestRouter(&stubService{}, "")

	w := do(r, http.MethodGet, "/healthz", "", trace.HeaderName, "abc123")
	assert.Equal(t, "abc123", w.Header().Get(trace.HeaderName))

	w = do(r, http.MethodGet, "/healthz", "")
	assert.Len(t, w.Header().Get(trace.HeaderName), 32)
}

func TestGetViolations(t *testing.T) {
	r := newTestRouter(&stubService{}, "")

	w := do(r, http.MethodGet, "/projects/1/violations", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Violations map[string][]schedule.Violation `json:"violations"`
		Count      int                             `json:"violation_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 10, body.Violations["2"][0].DependencyID)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/projects/abc/violations", "").Code)
}

func TestListPhases_DatesOnTheWire(t *testing.T) {
	r := newTestRouter(&stubService{}, "")

	w := do(r, http.MethodGet, "/projects/3/phases", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"start_date":"2025-01-01"`)
	assert.Contains(t, w.Body.String(), `"project_id":3`)
}

func TestCheckPhase(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc, "")

	w := do(r, http.MethodPost, "/phases/2/check", `{"start_date":"2025-01-05","end_date":"2025-01-08"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []schedule.Day{schedule.MustParseDay("2025-01-05"), schedule.MustParseDay("2025-01-08")}, svc.checked)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/phases/2/check", `{"start_date":"2025-01-05"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/phases/2/check", `{"start_date":"01/05/2025","end_date":"2025-01-08"}`).Code)
}

func TestUpdatePhase(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc, "")

	w := do(r, http.MethodPatch, "/phases/2", `{"end_date":"2025-02-01","name":"Build"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.patch.EndDate)
	assert.Equal(t, "2025-02-01", svc.patch.EndDate.String())
	assert.Nil(t, svc.patch.StartDate)
	assert.Equal(t, "Build", *svc.patch.Name)
}

func TestFixAll(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc, "")

	w := do(r, http.MethodPost, "/projects/7/fix", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, svc.fixProject)
	assert.JSONEq(t, `{"updates":[{"id":2,"start_date":"2025-01-11","end_date":"2025-01-14"}],"remaining":{}}`, w.Body.String())
}

func TestDependencies(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc, "")

	w := do(r, http.MethodPost, "/dependencies", `{"predecessor_phase_id":1,"successor_phase_id":2,"dep_type":"FS","lag_days":3}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, planning.DependencyInput{PredecessorID: 1, SuccessorID: 2, Type: "FS", LagDays: 3}, svc.depInput)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/dependencies/5", "").Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"project", fmt.Errorf("%w: 1", planning.ErrProjectNotFound), http.StatusNotFound},
		{"dependency", planning.ErrDependencyNotFound, http.StatusNotFound},
		{"invalid", fmt.Errorf("%w: self", planning.ErrInvalidDependency), http.StatusBadRequest},
		{"too large", planning.ErrProjectTooLarge, http.StatusBadRequest},
		{"new edge cycle", planning.ErrDependencyCycle, http.StatusUnprocessableEntity},
		{"engine cycle", fmt.Errorf("%w: %w", planning.ErrDependencyCycle, &schedule.CycleError{PhaseIDs: []int{1, 2}}), http.StatusUnprocessableEntity},
		{"locked", planning.ErrFixInProgress, http.StatusConflict},
		{"db", errors.New("connection reset by peer"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&stubService{err: tt.err}, "")
			w := do(r, http.MethodPost, "/projects/1/fix", "")
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "connection reset")
			}
		})
	}
}

func TestAuthAndPermissions(t *testing.T) {
	const secret = "s3cret"
	r := newTestRouter(&stubService{}, secret)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/projects/1/phases", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/projects/1/phases", "", "Authorization", "Bearer nope").Code)

	userToken, err := util.GenerateJWT(3, rbac.RoleUser, secret, time.Hour)
	require.NoError(t, err)
	adminToken, err := util.GenerateJWT(4, rbac.RoleAdmin, secret, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/projects/1/phases", "", "Authorization", "Bearer "+userToken).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/projects/1/fix", "", "Authorization", "Bearer "+userToken).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/projects/1/fix", "", "Authorization", "Bearer "+adminToken).Code)

	// health stays public
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
}

func TestOutboxAdmin(t *testing.T) {
	r := newTestRouter(&stubService{}, "")

	w := do(r, http.MethodGet, "/admin/outbox/failed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[]}`, w.Body.String())

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/admin/outbox/9/replay", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/admin/outbox/404/replay", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/admin/outbox/failed?limit=0", "").Code)

	w = do(r, http.MethodPost, "/admin/outbox/replay?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"replayed":5}`, w.Body.String())
}
