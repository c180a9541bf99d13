package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visite/visite-admin/internal/backend"
	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/models"
	"github.com/visite/visite-admin/internal/services"
	"github.com/visite/visite-admin/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAPI stands in for the visite REST backend
type fakeAPI struct {
	mu        sync.Mutex
	bulk      []models.BulkResponseRequest
	countries []models.Country
	notes     []services.NtfyMessage
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/forms/all", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "success", "data": []models.Form{{UUID: "f1", Title: "Visite terrain"}}})
	})
	mux.HandleFunc("/public/forms/f1/items", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "success", "data": []models.FormItem{
			{UUID: "name", Question: "Nom du site", ItemType: "text", Required: true, SortOrder: 1},
			{UUID: "count", Question: "Nombre de visiteurs", ItemType: "number", SortOrder: 2},
			{
				UUID:              "open",
				Question:          "Ouvert ?",
				ItemType:          "select",
				Options:           "Oui\nNon",
				SortOrder:         3,
				ConditionalFields: `{"Non": [{"id": "why", "label": "Pourquoi", "type": "text"}]}`,
			},
		}})
	})
	mux.HandleFunc("/public/form-submissions", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "success", "data": models.Submission{UUID: "sub-1", FormUUID: "f1"}})
	})
	mux.HandleFunc("/public/form-responses/bulk", func(w http.ResponseWriter, r *http.Request) {
		var req models.BulkResponseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.bulk = append(f.bulk, req)
		f.mu.Unlock()
		write(w, map[string]any{"status": "success", "created_count": len(req.Responses)})
	})
	mux.HandleFunc("/visite-data/map-markers", func(w http.ResponseWriter, r *http.Request) {
		write(w, []map[string]any{
			{"id": 1, "latitude": "-4.30", "longitude": "15.30", "text_value": "Marché", "visite_harder_uuid": "v1", "area_uuid": "gombe"},
			{"id": 2, "latitude": -4.31, "longitude": 15.31, "text_value": "École", "visite_harder_uuid": "v1", "area_uuid": "gombe"},
			{"id": 3, "latitude": -11.6, "longitude": 27.5, "text_value": "Clinique", "area_uuid": "kampemba"},
			{"id": 0, "latitude": -11.62, "longitude": 27.48, "text_value": "Puits", "area_uuid": "kampemba"},
		})
	})
	mux.HandleFunc("/countries/create", func(w http.ResponseWriter, r *http.Request) {
		var c models.Country
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		c.UUID = "c-1"
		f.mu.Lock()
		f.countries = append(f.countries, c)
		f.mu.Unlock()
		write(w, map[string]any{"status": "success", "data": c})
	})
	mux.HandleFunc("/ntfy", func(w http.ResponseWriter, r *http.Request) {
		var msg services.NtfyMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		f.mu.Lock()
		f.notes = append(f.notes, msg)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/countries/get/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		write(w, map[string]any{"status": "error", "message": "Country not found"})
	})
	return mux
}

type testEnv struct {
	api    *fakeAPI
	server *Server
	store  *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	api := &fakeAPI{}
	backendSrv := httptest.NewServer(api.handler(t))
	t.Cleanup(backendSrv.Close)

	cfg := &config.Config{}
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Admin = config.AdminConfig{Username: "admin", Password: "secret", SessionTTL: time.Hour}
	cfg.Backend = config.BackendConfig{BaseURL: backendSrv.URL, Timeout: 5 * time.Second}
	cfg.Geo.MaxPositionAge = 5 * time.Minute
	cfg.Notifications.Ntfy = config.NtfyConfig{Enabled: true, URL: backendSrv.URL + "/ntfy", Topic: "visite"}

	logger := zerolog.Nop()
	st, err := store.Open(config.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	client := backend.NewClient(cfg.Backend, logger)
	formService := services.NewFormService(client, logger)
	sessions := services.NewSessionService(formService, st, logger)

	server := NewServer(cfg, Services{
		Forms:       formService,
		Sessions:    sessions,
		Submissions: services.NewSubmissionService(cfg, sessions, client, st, nil, nil, logger),
		Map:         services.NewMapService(cfg, client, logger),
		Territory:   services.NewTerritoryService(client.Countries(), client.Provinces(), client.Areas(), client.Users(), logger),
		Analytics:   services.NewAnalyticsService(st, logger),

		Notifications: services.NewNotificationService(cfg),
		Email:         services.NewEmailService(cfg),
	}, logger)

	return &testEnv{api: api, server: server, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestForms_ListAndDescribe(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/forms", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["forms"], 1)

	code, body = env.do(t, http.MethodGet, "/api/forms/f1", nil)
	require.Equal(t, http.StatusOK, code)
	form := body["form"].(map[string]any)
	items := form["items"].([]any)
	require.Len(t, items, 3)
	groups := items[2].(map[string]any)["groups"].(map[string]any)
	assert.Contains(t, groups, "Non")

	code, body = env.do(t, http.MethodGet, "/api/forms/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
}

func TestSession_FillAndSubmit(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/sessions", map[string]string{"form_uuid": "f1"})
	require.Equal(t, http.StatusCreated, code)
	id := body["session"].(map[string]any)["id"].(string)

	// required name is missing
	code, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["fields"], "name")
	assert.Equal(t, "invalid", body["result"].(map[string]any)["outcome"])

	code, body = env.do(t, http.MethodPut, "/api/sessions/"+id+"/values", map[string]string{"key": "count", "value": "beaucoup"})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "beaucoup", body["session"].(map[string]any)["values"].(map[string]any)["count"])

	for key, value := range map[string]string{"name": "Marché central", "count": "12", "open": "Non", "open::Non::why": "travaux"} {
		code, _ = env.do(t, http.MethodPut, "/api/sessions/"+id+"/values", map[string]string{"key": key, "value": value})
		require.Equal(t, http.StatusOK, code, key)
	}

	code, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_valid"])

	code, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/submit", models.SubmitRequest{SubmitterName: "Amani"})
	require.Equal(t, http.StatusOK, code, body)
	result := body["result"].(map[string]any)
	assert.Equal(t, "success", result["outcome"])
	assert.Equal(t, "sub-1", result["submission_uuid"])

	env.api.mu.Lock()
	require.Len(t, env.api.bulk, 1)
	assert.Len(t, env.api.bulk[0].Responses, 4)
	env.api.mu.Unlock()

	code, body = env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["session"].(map[string]any)["state"])

	code, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSession_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := env.do(t, http.MethodPost, "/api/sessions", map[string]string{"form_uuid": "f1"})
	require.Equal(t, http.StatusCreated, code)
	id := body["session"].(map[string]any)["id"].(string)

	code, _ = env.do(t, http.MethodPut, "/api/sessions/"+id+"/values", map[string]string{"key": "ghost", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = env.do(t, http.MethodPut, "/api/sessions/"+id+"/location", map[string]float64{"latitude": 120, "longitude": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["fields"], "latitude")
}

func TestMap_MarkersAndSelect(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/map/markers?area_uuid=gombe&lat=-4.3&lng=15.4", nil)
	require.Equal(t, http.StatusOK, code)
	view := body["map"].(map[string]any)
	assert.Len(t, view["markers"], 2)
	assert.EqualValues(t, 4, view["total"])

	for _, q := range []string{"lat=abc&lng=1", "lat=NaN&lng=15", "lat=-4.3&lng=Inf", "lat=91&lng=15", "lat=-4.3"} {
		code, body = env.do(t, http.MethodGet, "/api/map/markers?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, code, q)
		assert.Equal(t, false, body["success"], q)
	}

	code, body = env.do(t, http.MethodPost, "/api/map/select", map[string]any{"id": 1})
	require.Equal(t, http.StatusOK, code)
	sel := body["selection"].(map[string]any)
	assert.EqualValues(t, 2, sel["nearest"].(map[string]any)["marker_id"])

	code, _ = env.do(t, http.MethodPost, "/api/map/select", map[string]any{"id": 42})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = env.do(t, http.MethodPost, "/api/map/select?area_uuid=kampemba", map[string]any{"id": 0})
	require.Equal(t, http.StatusOK, code)
	sel = body["selection"].(map[string]any)
	assert.EqualValues(t, 3, sel["nearest"].(map[string]any)["marker_id"])

	code, _ = env.do(t, http.MethodPost, "/api/map/select", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/map/select", map[string]any{"id": 1, "user": map[string]any{"lat": 120, "lng": 15}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func login(t *testing.T, env *testEnv) string {
	t.Helper()
	code, body := env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"username": "admin", "password": "secret"})
	require.Equal(t, http.StatusOK, code)
	return body["token"].(string)
}

func TestAdmin_AuthRequired(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/admin/submissions", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodGet, "/api/admin/submissions", nil, "Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	token := login(t, env)
	code, body := env.do(t, http.MethodGet, "/api/admin/submissions/summary", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _ = env.do(t, http.MethodPost, "/api/admin/logout", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, "/api/admin/submissions", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdmin_CountryCatalog(t *testing.T) {
	env := newTestEnv(t)
	auth := "Bearer " + login(t, env)

	code, body := env.do(t, http.MethodPost, "/api/admin/countries", map[string]string{"name": ""}, "Authorization", auth)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["fields"], "name")

	code, body = env.do(t, http.MethodPost, "/api/admin/countries", map[string]string{"name": "RDC", "code": "CD"}, "Authorization", auth)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "c-1", body["data"].(map[string]any)["uuid"])

	code, body = env.do(t, http.MethodGet, "/api/admin/countries/nope", nil, "Authorization", auth)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Country not found", body["error"])
}

func TestAdmin_SubmissionLog(t *testing.T) {
	env := newTestEnv(t)
	auth := "Bearer " + login(t, env)

	require.NoError(t, env.store.AppendLog(context.Background(), &models.SubmissionLog{
		SessionID: "s1", FormUUID: "f1", Outcome: "success", ExpectedCount: 2, CreatedCount: 2,
	}))

	code, body := env.do(t, http.MethodGet, "/api/admin/submissions?form_uuid=f1", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])

	code, _ = env.do(t, http.MethodDelete, "/api/admin/submissions?days=0", nil, "Authorization", auth)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body = env.do(t, http.MethodDelete, "/api/admin/submissions?days=30", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["removed"])
}

func TestAdmin_Drafts(t *testing.T) {
	env := newTestEnv(t)
	auth := "Bearer " + login(t, env)

	code, body := env.do(t, http.MethodGet, "/api/admin/drafts", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["count"])
	assert.Empty(t, body["drafts"])

	code, body = env.do(t, http.MethodPost, "/api/sessions", map[string]string{"form_uuid": "f1"})
	require.Equal(t, http.StatusCreated, code)
	id := body["session"].(map[string]any)["id"].(string)

	code, _ = env.do(t, http.MethodPut, "/api/sessions/"+id+"/values", map[string]string{"key": "name", "value": "Amani"})
	require.Equal(t, http.StatusOK, code)

	code, body = env.do(t, http.MethodGet, "/api/admin/drafts", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])
	draft := body["drafts"].([]any)[0].(map[string]any)
	assert.Equal(t, id, draft["id"])
	assert.Equal(t, "Amani", draft["responses"].(map[string]any)["name"])

	code, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = env.do(t, http.MethodGet, "/api/admin/drafts", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["count"])

	code, _ = env.do(t, http.MethodGet, "/api/admin/drafts", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdmin_Notifications(t *testing.T) {
	env := newTestEnv(t)
	auth := "Bearer " + login(t, env)

	code, body := env.do(t, http.MethodPost, "/api/admin/notifications/test", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _ = env.do(t, http.MethodPost, "/api/admin/notifications", map[string]any{
		"title": "Maintenance", "message": "Backend restarts at 18:00", "tags": []string{"wrench"}, "priority": 4,
	}, "Authorization", auth)
	require.Equal(t, http.StatusOK, code)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing message", map[string]any{"title": "x"}},
		{"priority out of range", map[string]any{"title": "x", "message": "y", "priority": 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := env.do(t, http.MethodPost, "/api/admin/notifications", tt.body, "Authorization", auth)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}

	env.api.mu.Lock()
	defer env.api.mu.Unlock()
	require.Len(t, env.api.notes, 2)
	assert.Equal(t, "Test Notification", env.api.notes[0].Title)
	assert.Equal(t, "visite", env.api.notes[1].Topic)
	assert.Equal(t, "Maintenance", env.api.notes[1].Title)
	assert.Equal(t, []string{"wrench"}, env.api.notes[1].Tags)
	assert.Equal(t, 4, env.api.notes[1].Priority)
}

func TestAdmin_TestEmail(t *testing.T) {
	env := newTestEnv(t)
	auth := "Bearer " + login(t, env)

	code, _ := env.do(t, http.MethodPost, "/api/admin/email/test", map[string]string{"to": "not-an-address"}, "Authorization", auth)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := env.do(t, http.MethodPost, "/api/admin/email/test", map[string]string{"to": "ops@visite.local"}, "Authorization", auth)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, services.ErrEmailDisabled.Error(), body["error"])
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(rateLimitMiddleware(2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
