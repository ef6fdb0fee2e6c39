package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unical/internal/config"
	"unical/internal/ics"
	appLog "unical/internal/log"
	"unical/internal/model"
	"unical/internal/profile"
	"unical/internal/upstream"
)

type fakeAggregator struct {
	calls  atomic.Int32
	events []model.Event
}

// Fetch behaves like the real aggregator: a canceled context makes every
// year fail, leaving nothing.
func (f *fakeAggregator) Fetch(ctx context.Context, _ []model.Timetable) []model.Event {
	f.calls.Add(1)
	if ctx.Err() != nil {
		return []model.Event{}
	}
	return f.events
}

type fakeUpstream struct {
	body      []byte
	err       error
	years     []upstream.Option
	curricula map[int][]upstream.Option
}

func (f *fakeUpstream) FetchUncached(_ context.Context, u string) (upstream.Result, error) {
	if f.err != nil {
		return upstream.Result{}, f.err
	}
	return upstream.Result{URL: u, Body: f.body}, nil
}

func (f *fakeUpstream) Years(context.Context, string) ([]upstream.Option, error) {
	return f.years, f.err
}

func (f *fakeUpstream) Curricula(_ context.Context, _ string, year int) ([]upstream.Option, error) {
	return f.curricula[year], f.err
}

func lesson(title, program string, sh, sm, eh, em int) model.Event {
	start := time.Date(2025, 10, 27, sh, sm, 0, 0, time.UTC)
	return model.Event{
		Title:    title,
		Start:    start,
		End:      time.Date(2025, 10, 27, eh, em, 0, 0, time.UTC),
		RawStart: start.Format("2006-01-02T15:04:05"),
		Program:  program,
		Year:     1,
	}
}

func fixtureEvents() []model.Event {
	return []model.Event{
		lesson("Algorithms", "DTM - Year 1", 10, 0, 12, 0),
		lesson("Databases", "DTM - Year 1", 11, 30, 13, 0),
		lesson("Compilers", "CS - Year 1", 13, 0, 14, 0),
	}
}

type testEnv struct {
	srv   *Server
	h     http.Handler
	store *profile.BadgerStore
	agg   *fakeAggregator
	up    *fakeUpstream
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	store, err := profile.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}

	agg := &fakeAggregator{events: fixtureEvents()}
	up := &fakeUpstream{}
	srv := NewServer(cfg, store, agg, up)
	srv.now = func() time.Time { return time.Date(2025, 10, 27, 9, 30, 0, 0, time.UTC) }
	return &testEnv{srv: srv, h: srv.Handler(), store: store, agg: agg, up: up}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndTest(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/test", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestFetchSchedule(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/fetch-schedule", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing url parameter", decode[errorResponse](t, rec).Error)

	env.up.body = []byte(`[{"title":"Algorithms","start":"2025-10-27T10:00:00","end":"2025-10-27T12:00:00"}]`)
	rec = env.do(t, http.MethodGet, "/api/fetch-schedule?url="+url.QueryEscape("https://corsi.example/x"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(env.up.body), rec.Body.String())
}

func TestFetchScheduleErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream status", &upstream.StatusError{StatusCode: http.StatusNotFound, Status: "404 Not Found"}, http.StatusNotFound},
		{"no response", fmt.Errorf("%w: dial tcp: timeout", upstream.ErrNoResponse), http.StatusServiceUnavailable},
		{"setup", fmt.Errorf("%w: bad url", upstream.ErrSetup), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.up.err = tc.err
			rec := env.do(t, http.MethodGet, "/api/fetch-schedule?url=https://corsi.example/x", "")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestYearsAndCurricula(t *testing.T) {
	env := newTestEnv(t, nil)
	env.up.years = []upstream.Option{{Value: "1", Label: "1st year"}}
	env.up.curricula = map[int][]upstream.Option{2: {{Value: "A58-000", Label: "Common"}}}

	rec := env.do(t, http.MethodGet, "/api/years?url=https://corsi.example/x", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, env.up.years, decode[[]upstream.Option](t, rec))

	rec = env.do(t, http.MethodGet, "/api/curricula?url=https://corsi.example/x&anno=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, env.up.curricula[2], decode[[]upstream.Option](t, rec))

	rec = env.do(t, http.MethodGet, "/api/curricula?url=https://corsi.example/x&anno=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveProfileValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/profile", `{"timetables":[{"url":"https://x.example/a","name":"A"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing profileId", decode[errorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/profile", `{"profileId":"p1","timetables":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No timetables provided", decode[errorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/profile", `{"profileId":"p1","timetables":[{"url":"not a url","name":"A"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Fields, "timetables[0].url")

	rec = env.do(t, http.MethodPost, "/api/profile", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveAndGetProfile(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/profile", `{
		"profileId": "p1",
		"timetables": [{"url": "https://corsi.example/laurea/DTM/@@orario_reale_json", "name": "DTM"}],
		"filters": {"DTM": {"selectedYears": [1], "selectedCourses": ["Algorithms_1_DTM - Year 1"]}},
		"courseKeys": null
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, err := env.store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []model.Year{1}, p.Filters["DTM"].SelectedYears)
	assert.Equal(t, []string{}, p.CourseKeys)
	assert.False(t, p.UpdatedAt.IsZero())

	rec = env.do(t, http.MethodGet, "/api/profile?profileId=p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", decode[model.Profile](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/profile?profileId=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewProfileID(t *testing.T) {
	env := newTestEnv(t, nil)

	first := decode[map[string]string](t, env.do(t, http.MethodGet, "/api/profile/new", ""))["profileId"]
	second := decode[map[string]string](t, env.do(t, http.MethodGet, "/api/profile/new", ""))["profileId"]
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
}

func TestSaveProfileIgnoresMisshapenFilters(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/profile",
		`{"profileId":"p2","timetables":[{"url":"https://x.example/a","name":"A"}],"filters":["DTM"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := env.store.Get(context.Background(), "p2")
	require.NoError(t, err)
	assert.Nil(t, p.Filters)
}

func TestEventsMarksConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	urls := url.QueryEscape(`[{"url":"https://corsi.example/x","name":"X"}]`)

	rec := env.do(t, http.MethodGet, "/api/events?urls="+urls, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[eventsResponse](t, rec)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Events, 3)
	assert.True(t, resp.Events[0].Conflict)
	assert.True(t, resp.Events[1].Conflict)
	assert.False(t, resp.Events[2].Conflict)
	assert.Equal(t, "Algorithms_2025-10-27T10:00:00_DTM - Year 1", resp.Events[0].Identity)
	assert.Equal(t, "Algorithms_1_DTM - Year 1", resp.Events[0].CourseKey)
}

func TestConflictsAndStats(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Timetables = []model.Timetable{{URL: "https://corsi.example/x", Name: "X"}}
	})

	rec := env.do(t, http.MethodGet, "/api/conflicts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	conflicts := decode[conflictsResponse](t, rec)
	assert.Equal(t, []string{
		"Algorithms_2025-10-27T10:00:00_DTM - Year 1",
		"Databases_2025-10-27T11:30:00_DTM - Year 1",
	}, conflicts.Identities)
	require.Len(t, conflicts.Pairs, 1)
	assert.Equal(t, "Algorithms", conflicts.Pairs[0].First.Title)

	rec = env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TotalEvents int     `json:"totalEvents"`
		TotalHours  float64 `json:"totalHours"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalEvents)
	assert.InDelta(t, 4.5, stats.TotalHours, 0.001)
}

func TestUpcoming(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Timetables = []model.Timetable{{URL: "https://corsi.example/x", Name: "X"}}
	})

	rec := env.do(t, http.MethodGet, "/api/upcoming?minutes=60", "")
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]eventView](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, "Algorithms", views[0].Title)

	rec = env.do(t, http.MethodGet, "/api/upcoming?minutes=-5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarResolution(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.Put(ctx, model.Profile{ID: "empty", Timetables: []model.Timetable{}}))

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"no configuration", "/calendar.ics", http.StatusBadRequest},
		{"unknown profile without urls", "/calendar.ics?profileId=nope", http.StatusBadRequest},
		{"invalid json", "/calendar.ics?urls=" + url.QueryEscape("{broken"), http.StatusBadRequest},
		{"empty inline list", "/calendar.ics?urls=" + url.QueryEscape("[]"), http.StatusBadRequest},
		{"profile without timetables", "/calendar.ics?profileId=empty", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tc.target, "")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCalendarForProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.Put(context.Background(), model.Profile{
		ID:         "p1",
		Timetables: []model.Timetable{{URL: "https://corsi.example/x", Name: "DTM"}},
		Filters:    model.Filters{"DTM": {}},
	}))

	rec := env.do(t, http.MethodGet, "/calendar.ics?profileId=p1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="university-calendar.ics"`)
	assert.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))

	feed, err := ics.Parse(strings.NewReader(rec.Body.String()))
	require.NoError(t, err)
	require.Len(t, feed, 2)
	titles := []string{feed[0].Summary, feed[1].Summary}
	assert.ElementsMatch(t, []string{"Algorithms", "Databases"}, titles)
}

func TestCalendarInlineObjectWithNoMatches(t *testing.T) {
	env := newTestEnv(t, nil)
	cfg := `{"timetables":[{"url":"https://corsi.example/x","name":"X"}],"filters":{"Physics":{}}}`

	rec := env.do(t, http.MethodGet, "/calendar.ics?urls="+url.QueryEscape(cfg), "")
	require.Equal(t, http.StatusOK, rec.Code)

	feed, err := ics.Parse(strings.NewReader(rec.Body.String()))
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestCalendarDoubleEncodedParam(t *testing.T) {
	env := newTestEnv(t, nil)
	once := url.QueryEscape(`[{"url":"https://corsi.example/x","name":"X"}]`)

	rec := env.do(t, http.MethodGet, "/calendar.ics?urls="+url.QueryEscape(once), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAggregateIsCached(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Timetables = []model.Timetable{{URL: "https://corsi.example/x", Name: "X"}}
	})

	env.do(t, http.MethodGet, "/api/events", "")
	env.do(t, http.MethodGet, "/calendar.ics", "")
	assert.Equal(t, int32(1), env.agg.calls.Load())

	env.srv.now = func() time.Time { return time.Date(2025, 10, 27, 10, 30, 0, 0, time.UTC) }
	env.do(t, http.MethodGet, "/api/events", "")
	assert.Equal(t, int32(2), env.agg.calls.Load())
}

func TestAbandonedRequestIsNotCached(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Timetables = []model.Timetable{{URL: "https://corsi.example/magistrale/X", Name: "X"}}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	env.h.ServeHTTP(httptest.NewRecorder(), req)

	rec := env.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[eventsResponse](t, rec).Total)
	assert.Equal(t, int32(2), env.agg.calls.Load())

	rec = env.do(t, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	feed, err := ics.Parse(strings.NewReader(rec.Body.String()))
	require.NoError(t, err)
	assert.Len(t, feed, 3)
	assert.Equal(t, int32(2), env.agg.calls.Load())
}

func TestProxyLogsRedactedURL(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	env := newTestEnv(t, nil)
	env.up.err = fmt.Errorf("%w: dial tcp: timeout", upstream.ErrNoResponse)
	env.do(t, http.MethodGet, "/api/fetch-schedule?url="+url.QueryEscape("https://corsi.example/x?token=s3cret"), "")

	assert.Contains(t, buf.String(), "https://corsi.example/x?...(redacted)")
	assert.NotContains(t, buf.String(), "s3cret")
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
		c.Timetables = []model.Timetable{{URL: "https://corsi.example/x", Name: "X"}}
	})

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/events", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/calendar.ics", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	env.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
