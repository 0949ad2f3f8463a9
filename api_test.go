/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/secretgift/sessions"
)

const fourPeople = `{
	"houses": [{"id": "A", "name": "Casa A"}, {"id": "B", "name": "Casa B"}],
	"people": [
		{"id": "p1", "name": "Ana", "houseId": "A"},
		{"id": "p2", "name": "Beto", "houseId": "A"},
		{"id": "p3", "name": "Carla", "houseId": "B"},
		{"id": "p4", "name": "Dani", "houseId": "B"}
	]
}`

func newTestRouter(t *testing.T, cfg *Config) http.Handler {
	t.Helper()
	hubs := newHubManager(cfg)
	t.Cleanup(hubs.closeAll)
	store := sessions.New(sessions.Options{
		LazyDraw: cfg.lazyDraw,
		OnChange: hubs.publish,
		Logf:     t.Logf,
	})

	return newRouter(cfg, store, hubs, make(chan error, 64))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createSession(t *testing.T, h http.Handler, body string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/sessions", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[createResponse](t, rec).ID
	require.NotEmpty(t, id)
	return id
}

func TestCreateAndGetSession(t *testing.T) {
	h := newTestRouter(t, &Config{})
	id := createSession(t, h, fourPeople)

	rec := do(t, h, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	// The public state never leaks pairings.
	assert.NotContains(t, rec.Body.String(), "giverId")
	assert.NotContains(t, rec.Body.String(), "receiverId")

	view := decode[sessions.View](t, rec)
	assert.Equal(t, id, view.ID)
	assert.True(t, view.Complete)
	assert.Len(t, view.Groups, 2)
	require.Len(t, view.Participants, 4)
	assert.Equal(t, "A", view.Participants[0].GroupID)
	for _, p := range view.Participants {
		assert.False(t, p.Claimed)
	}
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	h := newTestRouter(t, &Config{})

	rec := do(t, h, http.MethodPost, "/api/sessions", `{"houses": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Bad Request", decode[errorResponse](t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/sessions", `{"houses": [{"id": "A"}], "people": [{"id": "p1", "name": "Ana", "houseId": "Z"}, {"name": "Beto", "houseId": "A"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Contains(t, resp.Fields, "people[0].houseId")
}

func TestGetUnknownSession(t *testing.T) {
	h := newTestRouter(t, &Config{})

	rec := do(t, h, http.MethodGet, "/api/sessions/deadbeef", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode[errorResponse](t, rec).Error)
}

func TestClaimStatusCodes(t *testing.T) {
	h := newTestRouter(t, &Config{})
	id := createSession(t, h, fourPeople)
	claim := "/api/sessions/" + id + "/claim"

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		reason string
	}{
		{"malformed", claim, `{`, http.StatusBadRequest, "Bad Request"},
		{"missing person", claim, `{}`, http.StatusBadRequest, "personId required"},
		{"unknown session", "/api/sessions/nope/claim", `{"personId": "p1"}`, http.StatusNotFound, reasonNotFound},
		{"unknown person", claim, `{"personId": "p9"}`, http.StatusNotFound, reasonPersonNotFound},
		{"first claim", claim, `{"personId": "p1"}`, http.StatusOK, ""},
		{"second claim", claim, `{"personId": "p1"}`, http.StatusConflict, reasonAlreadyClaimed},
	}

	for _, tc := range cases {
		rec := do(t, h, http.MethodPost, tc.path, tc.body)
		require.Equal(t, tc.status, rec.Code, "%s: %s", tc.name, rec.Body.String())

		if tc.status == http.StatusOK {
			assert.True(t, decode[claimResponse](t, rec).OK, tc.name)
			continue
		}
		assert.Equal(t, tc.reason, decode[errorResponse](t, rec).Error, tc.name)
	}

	view := decode[sessions.View](t, do(t, h, http.MethodGet, "/api/sessions/"+id, ""))
	for _, p := range view.Participants {
		assert.Equal(t, p.ID == "p1", p.Claimed, p.ID)
	}
}

func TestReceiverAfterLazyDraw(t *testing.T) {
	h := newTestRouter(t, &Config{lazyDraw: true})
	id := createSession(t, h, fourPeople)

	for _, person := range []string{"p1", "p2", "p3"} {
		rec := do(t, h, http.MethodPost, "/api/sessions/"+id+"/claim", `{"personId": "`+person+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, h, http.MethodGet, "/api/sessions/"+id+"/receiver/"+person, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, reasonNotAvailable, decode[errorResponse](t, rec).Error)
	}

	rec := do(t, h, http.MethodPost, "/api/sessions/"+id+"/claim", `{"personId": "p4"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[sessions.View](t, do(t, h, http.MethodGet, "/api/sessions/"+id, ""))
	require.True(t, view.Complete)

	house := map[string]string{"p1": "A", "p2": "A", "p3": "B", "p4": "B"}
	for giver := range house {
		rec := do(t, h, http.MethodGet, "/api/sessions/"+id+"/receiver/"+giver, "")
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[receiverResponse](t, rec)
		assert.NotEqual(t, giver, resp.ReceiverID)
		assert.NotEqual(t, house[giver], house[resp.ReceiverID])
		assert.NotEmpty(t, resp.ReceiverName)
	}
}

func TestInfeasibleSessionStaysIncomplete(t *testing.T) {
	h := newTestRouter(t, &Config{})
	id := createSession(t, h, `{
		"houses": [{"id": "A"}, {"id": "B"}],
		"people": [
			{"id": "p1", "name": "one", "houseId": "A"},
			{"id": "p2", "name": "two", "houseId": "A"},
			{"id": "p3", "name": "three", "houseId": "B"}
		]
	}`)

	view := decode[sessions.View](t, do(t, h, http.MethodGet, "/api/sessions/"+id, ""))
	assert.False(t, view.Complete)

	rec := do(t, h, http.MethodGet, "/api/sessions/"+id+"/receiver/p3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionQR(t *testing.T) {
	h := newTestRouter(t, &Config{})
	id := createSession(t, h, fourPeople)

	rec := do(t, h, http.MethodGet, "/api/sessions/"+id+"/qr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = do(t, h, http.MethodGet, "/api/sessions/nope/qr", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://gift.example/party/api/sessions/abc/qr", nil)
	assert.Equal(t, "http://gift.example/party/api/sessions/abc", sessionURL(&Config{}, req))

	req.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://gift.example/party/api/sessions/abc", sessionURL(&Config{}, req))
}

func TestPrefixedRoutes(t *testing.T) {
	h := newTestRouter(t, &Config{prefix: "/gift/"})

	rec := do(t, h, http.MethodPost, "/gift/api/sessions", fourPeople)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/gift/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/sessions", fourPeople)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiscPages(t *testing.T) {
	h := newTestRouter(t, &Config{})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok\n", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/version", "")
	assert.Equal(t, "secretgift v"+releaseVersion+"\n", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/robots.txt", "")
	assert.Contains(t, rec.Body.String(), "Disallow: /")

	rec = do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>secretgift</title>")
}

func TestProfileRoutesOnlyWhenEnabled(t *testing.T) {
	rec := do(t, newTestRouter(t, &Config{}), http.MethodGet, "/pprof/heap", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newTestRouter(t, &Config{profile: true}), http.MethodGet, "/pprof/cmdline", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHumanReadableSize(t *testing.T) {
	assert.Equal(t, "999 B", humanReadableSize(999))
	assert.Equal(t, "1.5 kB", humanReadableSize(1500))
	assert.Equal(t, "2.0 MB", humanReadableSize(2_000_000))
}
