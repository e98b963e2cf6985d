package server

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/extraction"
	"github.com/fyrsmithlabs/recalld/internal/faces"
	"github.com/fyrsmithlabs/recalld/internal/hub"
	"github.com/fyrsmithlabs/recalld/internal/identity"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/matchcache"
	"github.com/fyrsmithlabs/recalld/internal/mirror"
	"github.com/fyrsmithlabs/recalld/internal/people"
	"github.com/fyrsmithlabs/recalld/internal/recognizer"
	"github.com/fyrsmithlabs/recalld/internal/services"
	"github.com/fyrsmithlabs/recalld/internal/transcribe"
)

// stubProvider is a controllable faces.Provider for handler tests.
type stubProvider struct {
	embedding []float32
	err       error
}

func (p *stubProvider) Extract(ctx context.Context, imageBase64 string) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.embedding, nil
}

type serverFixture struct {
	server *Server
	people *people.Service
	cache  *matchcache.Cache
	hub    *hub.Hub
}

// newFixture wires a full server over a temp mirror, a fake embedding
// provider, and no remote tier.
func newFixture(t *testing.T, provider faces.Provider, opts services.Options) *serverFixture {
	t.Helper()

	store, err := mirror.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache := matchcache.New(0)
	h := hub.New(logging.NewNop(), nil)

	peopleSvc, err := people.NewService(people.Options{
		Mirror:      store,
		Cache:       cache,
		Faces:       provider,
		Broadcaster: h,
	})
	require.NoError(t, err)

	opts.People = peopleSvc
	opts.Recognizer = recognizer.NewService(provider, cache, nil, nil)
	opts.Hub = h

	srv, err := NewServer(services.NewRegistry(opts), logging.NewNop(), nil)
	require.NoError(t, err)

	return &serverFixture{server: srv, people: peopleSvc, cache: cache, hub: h}
}

// do runs one request through the router and returns the recorder.
func (f *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresRegistry(t *testing.T) {
	_, err := NewServer(nil, logging.NewNop(), nil)
	require.Error(t, err)
}

func TestNewServer_RequiresLogger(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	_, err := NewServer(services.NewRegistry(services.Options{
		People: f.people, Hub: f.hub,
	}), nil, nil)
	require.Error(t, err)
}

func TestHandleRoot(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "recalld", resp.Service)
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, &stubProvider{embedding: []float32{1, 0}}, services.Options{})

	_, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Sarah"})
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.PeopleCount)
	assert.Equal(t, 0, resp.CacheSize)
	assert.Equal(t, 0, resp.Sessions)
}

func TestCreateAndGetPerson(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})

	rec := f.do(http.MethodPost, "/people", `{
		"name": "Sarah Chen",
		"relation": "Daughter",
		"last_met": "Yesterday",
		"context": "Dinner together"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var created identity.Person
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.ID, "person_"))
	assert.Equal(t, "Sarah Chen", created.Name)

	rec = f.do(http.MethodGet, "/people/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got identity.Person
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created, got)
}

func TestCreatePerson_RequiresName(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodPost, "/people", `{"relation": "Friend"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePerson_InvalidBody(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodPost, "/people", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPerson_NotFound(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodGet, "/people/person_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPeople_EmptyIsArray(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodGet, "/people", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestListPeople(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	_, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Zoe"})
	require.NoError(t, err)
	_, err = f.people.Create(context.Background(), identity.PersonCreate{Name: "Adam"})
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/people", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []identity.Person
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Adam", got[0].Name)
}

func TestRegisterFace(t *testing.T) {
	f := newFixture(t, &stubProvider{embedding: []float32{0.6, 0.8}}, services.Options{})

	created, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Sarah"})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/register-face/"+created.ID, `{"image_base64": "aW1hZ2U="}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, created.ID, resp["person_id"])
	assert.Equal(t, 1, f.cache.Len())
}

func TestRegisterFace_NoFace(t *testing.T) {
	f := newFixture(t, &stubProvider{err: faces.ErrNoFace}, services.Options{})

	created, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Sarah"})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/register-face/"+created.ID, `{"image_base64": "aW1hZ2U="}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterFace_ProviderDown(t *testing.T) {
	f := newFixture(t, &stubProvider{err: faces.ErrUnavailable}, services.Options{})

	created, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Sarah"})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/register-face/"+created.ID, `{"image_base64": "aW1hZ2U="}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRegisterFace_UnknownPerson(t *testing.T) {
	f := newFixture(t, &stubProvider{embedding: []float32{1}}, services.Options{})
	rec := f.do(http.MethodPost, "/register-face/person_missing", `{"image_base64": "aW1hZ2U="}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterFace_RequiresImage(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodPost, "/register-face/person_x", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeletePerson(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})

	created, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Sarah"})
	require.NoError(t, err)

	rec := f.do(http.MethodDelete, "/people/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/people/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshCache(t *testing.T) {
	f := newFixture(t, &stubProvider{embedding: []float32{1, 0}}, services.Options{})

	created, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Sarah"})
	require.NoError(t, err)
	_, err = f.people.RegisterFace(context.Background(), created.ID, "aW1hZ2U=")
	require.NoError(t, err)

	// Sabotage the cache; refresh restores it from the mirror.
	f.cache.Load(nil)
	require.Equal(t, 0, f.cache.Len())

	rec := f.do(http.MethodPost, "/cache/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RefreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "refreshed", resp.Status)
	assert.Equal(t, 1, resp.CacheSize)
	assert.Equal(t, 1, f.cache.Len())
}

func TestExtract_NotConfigured(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodPost, "/extract", `{"sentence": "This is Sarah"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestExtract(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response": "{\"name\":\"Sarah\",\"relation\":\"daughter\",\"context\":\"\"}"}`))
	}))
	defer upstream.Close()

	client, err := extraction.NewClient(extraction.Config{BaseURL: upstream.URL})
	require.NoError(t, err)

	f := newFixture(t, &stubProvider{}, services.Options{Extraction: client})
	rec := f.do(http.MethodPost, "/extract", `{"sentence": "This is Sarah, my daughter"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var info extraction.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Sarah", info.Name)
	assert.Equal(t, "daughter", info.Relation)
}

func TestTranscribe_NotConfigured(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	rec := f.do(http.MethodPost, "/transcribe", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestTranscribe(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "This is Sarah"}`))
	}))
	defer upstream.Close()

	client, err := transcribe.NewClient(transcribe.Config{BaseURL: upstream.URL})
	require.NoError(t, err)

	f := newFixture(t, &stubProvider{}, services.Options{Transcribe: client})

	var body strings.Builder
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-wav-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader(body.String()))
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TranscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "This is Sarah", resp.Text)
}

func TestTranscribe_MissingFile(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	client, err := transcribe.NewClient(transcribe.Config{BaseURL: upstream.URL})
	require.NoError(t, err)

	f := newFixture(t, &stubProvider{}, services.Options{Transcribe: client})
	rec := f.do(http.MethodPost, "/transcribe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
