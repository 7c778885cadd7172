package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/auth"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/events"
	"github.com/technosupport/firewatch/internal/evidence"
	"github.com/technosupport/firewatch/internal/markers"
	"github.com/technosupport/firewatch/internal/middleware"
	"github.com/technosupport/firewatch/internal/tokens"
	"github.com/technosupport/firewatch/internal/users"
)

type testEnv struct {
	srv      *httptest.Server
	store    *alarms.MemoryStore
	evidence *evidence.FileStore
	hub      *events.Hub
	index    *markers.Index
	admin    string
	user     string
	userID   int64
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := alarms.NewMemoryStore()
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	ev, err := evidence.NewFileStore(t.TempDir(), 8)
	require.NoError(t, err)

	repo := users.NewMemoryRepo()
	for _, u := range []struct {
		name string
		role alarms.Role
	}{{"admin", alarms.RoleAdmin}, {"alice", alarms.RoleUser}} {
		hash, err := auth.HashPassword(u.name + "-pass")
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, &data.User{Username: u.name, PasswordHash: hash, Role: u.role}))
	}

	tm := tokens.NewManager("api-test-key", time.Hour)
	bl := auth.NewMemoryBlacklist(64, time.Hour)
	svc := &users.Service{Repo: repo, Tokens: tm, Blacklist: bl}

	index := markers.NewIndex(store, nil)
	server := NewServer(Deps{
		Lifecycle: alarms.NewLifecycle(store, hub, nil, nil),
		Store:     store,
		Evidence:  ev,
		Markers:   index,
		Users:     svc,
		Hub:       hub,
		Auth:      middleware.NewJWTAuth(tm, bl, nil),
	})
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, store: store, evidence: ev, hub: hub, index: index}
	env.admin = env.login(t, "admin", "admin-pass")
	env.user = env.login(t, "alice", "alice-pass")
	alice, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	env.userID = alice.ID
	return env
}

func (e *testEnv) login(t *testing.T, user, pass string) string {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Username: user, Password: pass})
	resp, err := http.Post(e.srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out users.LoginResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) raise(t *testing.T) alarms.Alarm {
	t.Helper()
	ref, err := e.evidence.Save(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9})
	require.NoError(t, err)
	a, err := e.store.Insert(context.Background(), alarms.NewAlarm{
		Box:         alarms.BoundingBox{Top: 10, Left: 10, Right: 50, Bottom: 50},
		EvidenceRef: ref,
	})
	require.NoError(t, err)
	e.index.Upsert(*a)
	return *a
}

func decodeErr(t *testing.T, resp *http.Response) ErrorBody {
	t.Helper()
	var b ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	return b
}

func TestLogin_BadPassword(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credential", decodeErr(t, resp).Error)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	for _, p := range []string{"/api/v1/alarms", "/api/v1/markers", "/api/v1/alarms/stats"} {
		resp := e.do(t, http.MethodGet, p, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, p)
	}
}

func TestClaimFlow(t *testing.T) {
	e := newEnv(t)
	a := e.raise(t)
	path := "/api/v1/alarms/" + itoa(a.ID) + "/process"

	resp := e.do(t, http.MethodPut, path, e.user, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(t, http.MethodPut, path, e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v alarmView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, alarms.Processed, v.Disposition.Kind)
	assert.NotZero(t, v.OwnerID)

	resp = e.do(t, http.MethodPut, path, e.admin, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_processed", decodeErr(t, resp).Error)

	resp = e.do(t, http.MethodPut, "/api/v1/alarms/999/process", e.admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPut, "/api/v1/alarms/abc/process", e.admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDismiss(t *testing.T) {
	e := newEnv(t)
	a := e.raise(t)
	path := "/api/v1/alarms/" + itoa(a.ID)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodDelete, path, e.user, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, path, e.admin, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, path, e.admin, nil).StatusCode)
}

func TestUnprocessedAdminOnly(t *testing.T) {
	e := newEnv(t)
	e.raise(t)
	e.raise(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/v1/alarms/unprocessed", e.user, nil).StatusCode)

	resp := e.do(t, http.MethodGet, "/api/v1/alarms/unprocessed", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Alarms []alarmView `json:"alarms"`
		Count  int         `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Count)
	assert.Greater(t, out.Alarms[0].ID, out.Alarms[1].ID, "newest first")
}

func TestListFilterValidation(t *testing.T) {
	e := newEnv(t)
	cases := map[string]int{
		"/api/v1/alarms?disposition=bogus":                                http.StatusBadRequest,
		"/api/v1/alarms?owner=x":                                          http.StatusBadRequest,
		"/api/v1/alarms?start=2026-05-01&end=2026-04-01":                  http.StatusBadRequest,
		"/api/v1/alarms?start=not-a-date":                                 http.StatusBadRequest,
		"/api/v1/alarms?start=2026-01-01&end=2026-01-31":                  http.StatusOK,
		"/api/v1/alarms?disposition=processed&start=2026-01-01T00:00:00Z": http.StatusOK,
	}
	for path, want := range cases {
		assert.Equal(t, want, e.do(t, http.MethodGet, path, e.admin, nil).StatusCode, path)
	}
}

func TestUserSeesOnlyOwnAlarms(t *testing.T) {
	e := newEnv(t)
	mine := e.raise(t)
	other := e.raise(t)
	_, err := e.store.UpdateOwner(context.Background(), mine.ID, 0, e.userID)
	require.NoError(t, err)
	_, err = e.store.UpdateOwner(context.Background(), other.ID, 0, 999)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/alarms/"+itoa(mine.ID), e.user, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/alarms/"+itoa(other.ID), e.user, nil).StatusCode)

	resp := e.do(t, http.MethodGet, "/api/v1/alarms/"+itoa(mine.ID)+"/evidence", e.user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp = e.do(t, http.MethodGet, "/api/v1/alarms?owner=999", e.user, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	e.raise(t)
	resp := e.do(t, http.MethodGet, "/api/v1/alarms/stats", e.user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c alarms.Counts
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	assert.Equal(t, alarms.Counts{Today: 1, Week: 1, Month: 1, Year: 1}, c)
}

func TestExport(t *testing.T) {
	e := newEnv(t)
	e.raise(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/v1/alarms/export", e.user, nil).StatusCode)

	resp := e.do(t, http.MethodGet, "/api/v1/alarms/export", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

	resp = e.do(t, http.MethodGet, "/api/v1/alarms/export?format=pdf", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/alarms/export?format=csv", e.admin, nil).StatusCode)
}

func TestMarkersVisibility(t *testing.T) {
	e := newEnv(t)
	e.raise(t)

	var out struct {
		Count int `json:"count"`
	}
	resp := e.do(t, http.MethodGet, "/api/v1/markers", e.admin, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Count)

	resp = e.do(t, http.MethodGet, "/api/v1/markers", e.user, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 0, out.Count)
}

func TestMarkersReadThroughStore(t *testing.T) {
	e := newEnv(t)
	first := e.raise(t)
	second := e.raise(t)
	third := e.raise(t)

	// Changes made directly in the store, as by another process, never reach the index.
	_, err := e.store.Delete(context.Background(), second.ID)
	require.NoError(t, err)
	_, err = e.store.UpdateOwner(context.Background(), third.ID, 0, e.userID)
	require.NoError(t, err)

	var out struct {
		Markers []markers.Marker `json:"markers"`
	}
	resp := e.do(t, http.MethodGet, "/api/v1/markers", e.admin, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	got := []int64{}
	for _, m := range out.Markers {
		got = append(got, m.AlarmID)
	}
	assert.Equal(t, []int64{first.ID, third.ID}, got)

	resp = e.do(t, http.MethodGet, "/api/v1/markers", e.user, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Markers, 1)
	assert.Equal(t, third.ID, out.Markers[0].AlarmID)
}

func TestAdminUsers(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/v1/admin/users", e.user, nil).StatusCode)

	resp := e.do(t, http.MethodPost, "/api/v1/admin/users", e.admin, CreateUserRequest{Username: "bob", Password: "bob-pass"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var u data.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
	assert.Equal(t, alarms.RoleUser, u.Role)

	resp = e.do(t, http.MethodPost, "/api/v1/admin/users", e.admin, CreateUserRequest{Username: "bob", Password: "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/api/v1/admin/users/"+itoa(u.ID), e.admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/v1/admin/audit", e.admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "audit disabled without a writer")
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, "/api/v1/auth/logout", e.user, nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/alarms", e.user, nil).StatusCode)
}

func TestEventsWebsocket(t *testing.T) {
	e := newEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/events?token=" + e.admin

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// The subscription is registered after the upgrade; publish until seen.
	a := alarms.Alarm{ID: 77}
	got := make(chan events.Event, 1)
	go func() {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err == nil {
			got <- ev
		}
	}()
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-got:
			assert.Equal(t, events.AlarmRaised, ev.Kind)
			assert.Equal(t, int64(77), ev.Alarm.ID)
			return
		case <-tick.C:
			e.hub.Publish(events.Event{Kind: events.AlarmRaised, Alarm: &a, AlarmID: a.ID})
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestEventsWebsocketRejectsMissingToken(t *testing.T) {
	e := newEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{alarms.ErrNotFound, http.StatusNotFound},
		{alarms.ErrAlreadyProcessed, http.StatusConflict},
		{alarms.ErrForbidden, http.StatusForbidden},
		{alarms.ErrExpiredToken, http.StatusUnauthorized},
		{errors.Join(alarms.ErrStorageUnavailable, errors.New("db")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
