package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/metrics"
	"github.com/alexbotov/progression/internal/progression"
	"github.com/alexbotov/progression/internal/testutil"
	"github.com/gorilla/mux"
)

type testServer struct {
	router http.Handler
	db     *database.DB
	userID string
	gameID string
}

func setupTestAPI(t *testing.T) *testServer {
	t.Helper()

	db := testutil.NewDB(t)
	registry := metrics.NewRegistry()
	engine := progression.New(db, progression.Options{
		Logger:  testutil.Logger(),
		Metrics: metrics.New(registry),
	})
	h := New(engine, db, testutil.Logger(), metrics.Handler(registry))

	return &testServer{
		router: h.SetupRouter(),
		db:     db,
		userID: testutil.CreateUser(t, db, "api-user"),
		gameID: testutil.CreateGame(t, db, "trivia", "quiz", domain.JSONMap{"base": 10, "score_multiplier": 0.5}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, APIResponse) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response body %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()

	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object data, got %T", resp.Data)
	}
	return m
}

func TestHealthAndInfo(t *testing.T) {
	s := setupTestAPI(t)

	code, resp := s.do(t, "GET", "/health", nil)
	if code != http.StatusOK || dataMap(t, resp)["status"] != "healthy" {
		t.Errorf("Expected healthy, got %d %+v", code, resp)
	}

	code, resp = s.do(t, "GET", "/", nil)
	if code != http.StatusOK || dataMap(t, resp)["version"] != Version {
		t.Errorf("Unexpected info %d %+v", code, resp)
	}

	code, resp = s.do(t, "GET", "/nowhere", nil)
	if code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("Expected 404, got %d %+v", code, resp)
	}
}

type downPinger struct{}

func (downPinger) PingContext(context.Context) error { return errors.New("connection refused") }

func TestHealthUnavailable(t *testing.T) {
	h := New(nil, downPinger{}, testutil.Logger(), nil)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := setupTestAPI(t)

	code, resp := s.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"game_id": s.gameID,
		"user_id": s.userID,
	})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %+v", code, resp.Error)
	}
	sessionID, _ := dataMap(t, resp)["id"].(string)
	if sessionID == "" {
		t.Fatalf("Expected a session id, got %+v", resp.Data)
	}

	t.Run("UpdateState", func(t *testing.T) {
		code, resp := s.do(t, "PUT", "/api/v1/sessions/"+sessionID+"/state", map[string]interface{}{
			"state": map[string]interface{}{"round": 2},
		})
		if code != http.StatusOK {
			t.Errorf("Expected 200, got %d %+v", code, resp.Error)
		}
	})

	t.Run("ActiveSession", func(t *testing.T) {
		code, resp := s.do(t, "GET", "/api/v1/users/"+s.userID+"/games/"+s.gameID+"/session", nil)
		if code != http.StatusOK || dataMap(t, resp)["id"] != sessionID {
			t.Errorf("Expected active session, got %d %+v", code, resp)
		}
	})

	t.Run("CompleteRequiresScore", func(t *testing.T) {
		code, _ := s.do(t, "POST", "/api/v1/sessions/"+sessionID+"/complete", map[string]interface{}{})
		if code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", code)
		}
	})

	t.Run("Complete", func(t *testing.T) {
		code, resp := s.do(t, "POST", "/api/v1/sessions/"+sessionID+"/complete", map[string]interface{}{
			"score": 100,
		})
		if code != http.StatusOK {
			t.Fatalf("Expected 200, got %d %+v", code, resp.Error)
		}
		data := dataMap(t, resp)
		if data["xp_earned"] != 60.0 {
			t.Errorf("Expected 60 XP, got %v", data["xp_earned"])
		}
		if list, ok := data["unlocked_achievements"].([]interface{}); !ok || len(list) != 0 {
			t.Errorf("Expected an empty unlock list, got %v", data["unlocked_achievements"])
		}
	})

	t.Run("CompleteTwice", func(t *testing.T) {
		code, resp := s.do(t, "POST", "/api/v1/sessions/"+sessionID+"/complete", map[string]interface{}{
			"score": 1,
		})
		if code != http.StatusConflict || resp.Error.Code != "INVALID_STATE" {
			t.Errorf("Expected 409, got %d %+v", code, resp.Error)
		}
	})

	t.Run("NoActiveSession", func(t *testing.T) {
		code, _ := s.do(t, "GET", "/api/v1/users/"+s.userID+"/games/"+s.gameID+"/session", nil)
		if code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", code)
		}
	})

	t.Run("Reads", func(t *testing.T) {
		code, resp := s.do(t, "GET", "/api/v1/users/"+s.userID, nil)
		if code != http.StatusOK || dataMap(t, resp)["total_xp"] != 60.0 {
			t.Errorf("Expected 60 total XP, got %d %+v", code, resp.Data)
		}

		code, resp = s.do(t, "GET", "/api/v1/users/"+s.userID+"/sessions?status=COMPLETED", nil)
		if list, ok := resp.Data.([]interface{}); code != http.StatusOK || !ok || len(list) != 1 {
			t.Errorf("Expected one completed session, got %d %+v", code, resp.Data)
		}

		code, resp = s.do(t, "GET", "/api/v1/users/"+s.userID+"/xp", nil)
		if list, ok := resp.Data.([]interface{}); code != http.StatusOK || !ok || len(list) != 1 {
			t.Errorf("Expected one transaction, got %d %+v", code, resp.Data)
		}

		code, resp = s.do(t, "GET", "/api/v1/users/"+s.userID+"/games/"+s.gameID+"/stats", nil)
		if code != http.StatusOK || dataMap(t, resp)["games_completed"] != 1.0 {
			t.Errorf("Expected stats, got %d %+v", code, resp.Data)
		}
	})
}

func TestErrorMapping(t *testing.T) {
	s := setupTestAPI(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"UnknownSession", "GET", "/api/v1/sessions/missing", nil, http.StatusNotFound},
		{"AbandonUnknown", "POST", "/api/v1/sessions/missing/abandon", nil, http.StatusNotFound},
		{"MalformedBody", "POST", "/api/v1/sessions", "{not json", http.StatusBadRequest},
		{"MissingIDs", "POST", "/api/v1/sessions", map[string]interface{}{}, http.StatusBadRequest},
		{"UnknownGame", "POST", "/api/v1/sessions", map[string]interface{}{"game_id": "chess", "user_id": s.userID}, http.StatusNotFound},
		{"BadStatusFilter", "GET", "/api/v1/users/" + s.userID + "/sessions?status=PAUSED", nil, http.StatusBadRequest},
		{"ReservedXPType", "POST", "/api/v1/users/" + s.userID + "/xp", map[string]interface{}{"amount": 5, "type": "ACHIEVEMENT"}, http.StatusBadRequest},
		{"UnknownLeaderboard", "GET", "/api/v1/leaderboards/missing", nil, http.StatusNotFound},
		{"NoStats", "GET", "/api/v1/users/" + s.userID + "/games/" + s.gameID + "/stats", nil, http.StatusNotFound},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, resp := s.do(t, c.method, c.path, c.body)
			if code != c.status {
				t.Errorf("Expected %d, got %d %+v", c.status, code, resp.Error)
			}
			if resp.Success {
				t.Error("Expected success=false")
			}
		})
	}
}

func TestAwardXPAndLeaderboard(t *testing.T) {
	s := setupTestAPI(t)
	boardID := testutil.CreateLeaderboard(t, s.db, "xp-board", nil, domain.JSONMap{"type": "total_xp"}, domain.PeriodAllTime)

	code, resp := s.do(t, "POST", "/api/v1/users/"+s.userID+"/xp", map[string]interface{}{
		"amount": 40,
		"type":   "DAILY_BONUS",
	})
	if code != http.StatusCreated || dataMap(t, resp)["total_xp"] != 40.0 {
		t.Errorf("Expected 40 total XP, got %d %+v", code, resp)
	}

	code, resp = s.do(t, "GET", "/api/v1/leaderboards/"+boardID+"/users/"+s.userID, nil)
	if code != http.StatusNotFound || resp.Error.Code != "NOT_RANKED" {
		t.Errorf("Expected not ranked before any completion, got %d %+v", code, resp)
	}

	code, resp = s.do(t, "GET", "/api/v1/leaderboards/"+boardID+"?limit=10", nil)
	if list, ok := resp.Data.([]interface{}); code != http.StatusOK || (resp.Data != nil && (!ok || len(list) != 0)) {
		t.Errorf("Expected an empty leaderboard, got %d %+v", code, resp.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestAPI(t)
	s.do(t, "POST", "/api/v1/sessions", map[string]interface{}{"game_id": s.gameID, "user_id": s.userID})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "progression_sessions_total") {
		t.Error("Expected session counter in metrics output")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := New(nil, downPinger{}, testutil.Logger(), nil)
	r := mux.NewRouter()
	r.Use(h.RecoveryMiddleware)
	r.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}
