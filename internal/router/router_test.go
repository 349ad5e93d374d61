package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/config"
	"verifyflow/internal/cache"
	"verifyflow/internal/middleware"
	"verifyflow/internal/repository/memory"
	"verifyflow/internal/service"
	"verifyflow/internal/verification"
	"verifyflow/pkg/token"
)

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Meta  map[string]interface{} `json:"meta"`
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

type testServer struct {
	h     *server.Hertz
	store *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	prev := config.Cfg
	config.Cfg.JWTSecret = "router-test-secret"
	config.Cfg.JWTExpireMinutes = 30
	config.Cfg.JWTRefreshDays = 7
	t.Cleanup(func() { config.Cfg = prev })

	require.NoError(t, token.Init())
	require.NoError(t, middleware.Init())

	reg := verification.DefaultRegistry()
	store := memory.NewStore(reg)
	svc, err := service.NewVerificationService(service.Deps{
		Store: store,
		Cache: cache.NewLocalViewCache(time.Minute, nil),
		Retry: service.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)

	h := server.New()
	Register(h, Options{Service: svc})
	return &testServer{h: h, store: store}
}

func bearer(t *testing.T, uid, role string) ut.Header {
	t.Helper()
	tok, _, err := token.GenerateAccessToken(uid, role)
	require.NoError(t, err)
	return ut.Header{Key: "Authorization", Value: "Bearer " + tok}
}

func (s *testServer) do(t *testing.T, method, url string, body interface{}, headers ...ut.Header) (int, envelope) {
	t.Helper()

	var b *ut.Body
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		b = &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
		headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	}

	w := ut.PerformRequest(s.h.Engine, method, url, b, headers...)
	resp := w.Result()

	var env envelope
	if len(resp.Body()) > 0 {
		require.NoError(t, json.Unmarshal(resp.Body(), &env), string(resp.Body()))
	}
	return resp.StatusCode(), env
}

func TestProgressRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/v1/verification/progress", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestProgressCreatesDefaults(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/v1/verification/progress", nil, bearer(t, "prov-1", token.RoleProvider))
	require.Equal(t, http.StatusOK, code)

	var data struct {
		Progress struct {
			CurrentStep        int    `json:"current_step"`
			VerificationStatus string `json:"verification_status"`
		} `json:"progress"`
		Steps       []map[string]interface{} `json:"steps"`
		ResumeRoute string                   `json:"resume_route"`
		TotalSteps  int                      `json:"total_steps"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.Progress.CurrentStep)
	assert.Equal(t, "pending", data.Progress.VerificationStatus)
	assert.Len(t, data.Steps, 8)
	assert.Equal(t, 8, data.TotalSteps)
	assert.Equal(t, "/verification/documents", data.ResumeRoute)
}

func TestCompleteStep(t *testing.T) {
	s := newTestServer(t)
	auth := bearer(t, "prov-1", token.RoleProvider)

	body := map[string]interface{}{
		"completed": true,
		"payload": map[string]interface{}{
			"documents": []map[string]string{
				{"type": "id_front", "url": "https://cdn.example.com/front.jpg"},
				{"type": "id_back", "url": "https://cdn.example.com/back.jpg"},
			},
		},
	}
	code, env := s.do(t, http.MethodPost, "/v1/verification/steps/1/complete", body, auth)
	require.Equal(t, http.StatusOK, code, env.Error.Message)

	var data struct {
		NextRoute string `json:"next_route"`
		Progress  struct {
			CurrentStep        int    `json:"current_step"`
			VerificationStatus string `json:"verification_status"`
		} `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "/verification/selfie", data.NextRoute)
	assert.Equal(t, 2, data.Progress.CurrentStep)
	assert.Equal(t, "in_progress", data.Progress.VerificationStatus)
}

func TestCompleteStepValidation(t *testing.T) {
	s := newTestServer(t)
	auth := bearer(t, "prov-1", token.RoleProvider)

	code, env := s.do(t, http.MethodPost, "/v1/verification/steps/1/complete", map[string]interface{}{"completed": true}, auth)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	assert.Contains(t, env.Error.Details, "fields")
	assert.Zero(t, s.store.Calls(memory.OpUpsertProgress))

	code, env = s.do(t, http.MethodPost, "/v1/verification/steps/9/complete", nil, auth)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_STEP", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/v1/verification/steps/abc/complete", nil, auth)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_STEP", env.Error.Code)
}

func TestNavigation(t *testing.T) {
	s := newTestServer(t)
	auth := bearer(t, "prov-1", token.RoleProvider)

	cases := []struct {
		url  string
		want string
	}{
		{"/v1/verification/navigation/next?route=/verification/terms", "/verification/complete"},
		{"/v1/verification/navigation/back?route=/verification/documents", "/verification/documents"},
		{"/v1/verification/navigation/step/3", "/verification/business-info"},
	}
	for _, tc := range cases {
		code, env := s.do(t, http.MethodGet, tc.url, nil, auth)
		require.Equal(t, http.StatusOK, code, tc.url)
		var data struct {
			Route string `json:"route"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, tc.want, data.Route, tc.url)
	}

	code, env := s.do(t, http.MethodGet, "/v1/verification/navigation/next?route=/nowhere", nil, auth)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "UNKNOWN_ROUTE", env.Error.Code)
}

func TestAdminRequiresReviewer(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPost, "/v1/admin/providers/prov-1/approve", nil, bearer(t, "prov-1", token.RoleProvider))
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAdminInvalidTransition(t *testing.T) {
	s := newTestServer(t)
	reviewer := bearer(t, "reviewer-1", token.RoleReviewer)

	// pending 不能直接通过
	code, env := s.do(t, http.MethodPost, "/v1/admin/providers/prov-1/approve", nil, reviewer)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "STATUS_TRANSITION_INVALID", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/v1/admin/providers/prov-1/reject", map[string]string{"reason": " "}, reviewer)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}
