package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaswhitaker22/specracer/model"
)

type stubHealth struct {
	report model.HealthReport
}

func (s *stubHealth) Report() model.HealthReport { return s.report }

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateRaceEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/races", map[string]any{
		"trackId": "silverline", "totalLaps": 3,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	raceID, _ := body["raceId"].(string)
	assert.True(t, strings.HasPrefix(raceID, "race_"), "raceId %q", raceID)
	assert.Equal(t, "waiting", body["status"])
	assert.InDelta(t, 3, body["totalLaps"].(float64), 1e-9)

	// The race row lands in the durable store off the request path.
	require.Eventually(t, func() bool {
		cfg, err := s.durable.RaceConfig(context.Background(), raceID)
		return err == nil && cfg != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateRaceValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body map[string]any
		code string
	}{
		{"unknown_track", map[string]any{"trackId": "moon", "totalLaps": 2}, CodeInvalidRequest},
		{"zero_laps", map[string]any{"trackId": "silverline", "totalLaps": 0}, CodeInvalidRequest},
		{"too_many_participants", map[string]any{"trackId": "silverline", "totalLaps": 2, "maxParticipants": 50}, CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/races", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, decodeBody(t, rec)["code"])
		})
	}
}

func TestRaceLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	eng, err := s.registry.Create("harbor-street", 2, 0)
	require.NoError(t, err)
	raceID := eng.RaceID()

	rec := doJSON(t, s, http.MethodPost, "/races/"+raceID+"/join", map[string]any{
		"playerId": "alice", "carId": "apex-gt",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/races/"+raceID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/races/"+raceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decodeBody(t, rec)["status"])

	// Starting twice must fail loudly.
	rec = doJSON(t, s, http.MethodPost, "/races/"+raceID+"/start", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeRaceStarted, decodeBody(t, rec)["code"])
}

func TestJoinConflicts(t *testing.T) {
	s := newTestServer(t)
	eng, err := s.registry.Create("silverline", 2, 1)
	require.NoError(t, err)
	raceID := eng.RaceID()

	rec := doJSON(t, s, http.MethodPost, "/races/"+raceID+"/join", map[string]any{
		"playerId": "alice", "carId": "apex-gt",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/races/"+raceID+"/join", map[string]any{
		"playerId": "bob", "carId": "falcon-rs",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeCapacityExceeded, decodeBody(t, rec)["code"])

	rec = doJSON(t, s, http.MethodPost, "/races/"+raceID+"/join", map[string]any{
		"carId": "apex-gt",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeBody(t, rec)["code"])
}

func TestGetRaceNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/races/race_missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeRaceNotFound, decodeBody(t, rec)["code"])
}

func TestResultsFallBackToDurableStore(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.durable.CreateRace(context.Background(), model.Race{
		ID: "race_1_done0001", TrackID: "silverline", TotalLaps: 2,
	}))
	require.NoError(t, s.durable.ArchiveResult(context.Background(), &model.RaceResult{
		RaceID:    "race_1_done0001",
		TrackID:   "silverline",
		TotalLaps: 2,
		Standings: []model.FinalResult{
			{Position: 1, PlayerID: "alice", CarID: "apex-gt", Laps: 2, TotalTimeSec: 245.7},
		},
	}))

	rec := doJSON(t, s, http.MethodGet, "/races/race_1_done0001/results", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	standings := body["standings"].([]any)
	require.Len(t, standings, 1)
	assert.Equal(t, "alice", standings[0].(map[string]any)["playerId"])
}

func TestResultsForUnfinishedRace(t *testing.T) {
	s := newTestServer(t)
	eng, err := s.registry.Create("silverline", 2, 0)
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/races/%s/results", eng.RaceID()), nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpointStatusCodes(t *testing.T) {
	s := newTestServer(t)
	stub := &stubHealth{report: model.HealthReport{Overall: model.StatusDegraded}}
	s.health = stub

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["overall"])

	stub.report.Overall = model.StatusCritical
	rec = doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointServes(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "racer_")
}

func TestWebsocketUpgradeRejectedDuringShutdown(t *testing.T) {
	s := newTestServer(t)
	s.closing.Store(true)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
