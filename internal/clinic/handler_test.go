package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

func newHandlerRouter(t *testing.T) (http.Handler, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client)
	r := chi.NewRouter()
	NewHandler(store, logging.Discard()).Routes(r)
	return r, store
}

func TestHandlerGetConfigDefaults(t *testing.T) {
	router, _ := newHandlerRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clinics/clinic-7/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var cfg Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "clinic-7", cfg.ID)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Nil(t, cfg.BusinessHours.Sunday)
}

func TestHandlerUpdateConfigIsPartial(t *testing.T) {
	router, store := newHandlerRouter(t)

	body := `{"name":"Cabinet Saint-Paul","practitioners":[{"id":"p-martin","name":"Dr Martin","calendar_id":"cal-martin"}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/clinics/clinic-1/config", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	cfg, err := store.Get(context.Background(), "clinic-1")
	require.NoError(t, err)
	assert.Equal(t, "Cabinet Saint-Paul", cfg.Name)
	require.Len(t, cfg.Practitioners, 1)
	assert.Equal(t, "cal-martin", cfg.Practitioners[0].CalendarID)
	assert.Equal(t, []string{"consultation", "suivi", "bilan", "vaccination"}, cfg.AppointmentTypes)
}

func TestHandlerUpdateConfigValidation(t *testing.T) {
	router, _ := newHandlerRouter(t)

	for name, body := range map[string]string{
		"malformed":    `{"name":`,
		"timezone":     `{"timezone":"Mars/Olympus"}`,
		"practitioner": `{"practitioners":[{"id":"","name":"Dr Martin"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/clinics/clinic-1/config", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
