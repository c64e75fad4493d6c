package tenantconfig

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarctl/solarctl/internal/tenant"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConfigStore struct {
	cfg    Config
	putErr error
}

func (s *fakeConfigStore) GetConfig(ctx context.Context, schema string) (Config, error) {
	return s.cfg, nil
}

func (s *fakeConfigStore) PutConfig(ctx context.Context, schema string, cfg Config) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.cfg = cfg
	return nil
}

func newTestConfigRouter(store *fakeConfigStore) chi.Router {
	h := NewHandler(testLogger(), store, nil)
	router := chi.NewRouter()
	router.Mount("/config", h.Routes())
	return router
}

func withConfigTenant(r *http.Request) *http.Request {
	return r.WithContext(tenant.NewContext(r.Context(), &tenant.Info{Schema: "tenant_a", Slug: "a"}))
}

func TestHandleGet_ReturnsStoredConfig(t *testing.T) {
	store := &fakeConfigStore{cfg: Config{Timezone: "Australia/Brisbane", AutomationEnabled: true}}
	router := newTestConfigRouter(store)

	req := withConfigTenant(httptest.NewRequest(http.MethodGet, "/config/", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Australia/Brisbane", got.Timezone)
	assert.True(t, got.AutomationEnabled)
}

func TestHandleUpdate_MergesOntoExistingDocument(t *testing.T) {
	store := &fakeConfigStore{cfg: Config{
		Timezone:          "Australia/Brisbane",
		AutomationEnabled: true,
		Inverter:          InverterCredentials{APIURL: "https://device.example", DeviceSerial: "SN1"},
	}}
	router := newTestConfigRouter(store)

	// Only flips automationEnabled; every other field must survive the merge.
	body := `{"timezone":"Australia/Brisbane","automationEnabled":false,"inverter":{"apiUrl":"https://device.example","deviceSerial":"SN1"}}`
	req := withConfigTenant(httptest.NewRequest(http.MethodPost, "/config/", strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, store.cfg.AutomationEnabled)
	assert.Equal(t, "SN1", store.cfg.Inverter.DeviceSerial)
}

func TestHandleUpdate_InvalidJSONReturns400(t *testing.T) {
	store := &fakeConfigStore{}
	router := newTestConfigRouter(store)

	req := withConfigTenant(httptest.NewRequest(http.MethodPost, "/config/", strings.NewReader("{bad")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUpdate_StoreFailureReturns500(t *testing.T) {
	store := &fakeConfigStore{putErr: errTestPutFailed{}}
	router := newTestConfigRouter(store)

	body := `{"automationEnabled":true}`
	req := withConfigTenant(httptest.NewRequest(http.MethodPost, "/config/", strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type errTestPutFailed struct{}

func (errTestPutFailed) Error() string { return "put failed" }
