package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"thriftledger/internal/config"
	"thriftledger/internal/service"
	"thriftledger/internal/testutil"
	"thriftledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	svcs   *service.Services
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.NewTestDB(t)
	cfg := config.Default()
	cfg.Gateway.WebhookSecret = "handler-test-secret"
	svcs := service.NewServices(db, cfg)
	return &testServer{t: t, router: SetupRouter(svcs, cfg), svcs: svcs}
}

func (s *testServer) do(method, path string, body []byte, headers map[string]string) (int, apiResponse) {
	s.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func (s *testServer) postJSON(path string, payload interface{}) apiResponse {
	s.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(s.t, err)
	_, resp := s.do(http.MethodPost, path, body, nil)
	return resp
}

func (s *testServer) postSigned(path string, payload interface{}) (int, apiResponse) {
	s.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(s.t, err)
	return s.do(http.MethodPost, path, body, map[string]string{SignatureHeader: s.svcs.Funding.Sign(body)})
}

func (s *testServer) get(path string) apiResponse {
	s.t.Helper()
	_, resp := s.do(http.MethodGet, path, nil, nil)
	return resp
}

func decode(t *testing.T, resp apiResponse, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestBankTransferWebhook_CreditsOnce(t *testing.T) {
	s := newTestServer(t)
	evt := map[string]interface{}{
		"user_id":     1,
		"amount":      "50.00",
		"reference":   "GW-0001",
		"sender_name": "ADA OBI",
		"source_bank": "GTB",
	}

	status, first := s.postSigned("/api/v1/funding/bank-transfer/webhook", evt)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, response.CodeSuccess, first.Code, first.Message)

	// 网关重复推送
	_, second := s.postSigned("/api/v1/funding/bank-transfer/webhook", evt)
	require.Equal(t, response.CodeSuccess, second.Code, second.Message)

	var a, b struct {
		TransactionNo string `json:"transaction_no"`
		Reference     string `json:"reference"`
		Amount        int64  `json:"amount"`
	}
	decode(t, first, &a)
	decode(t, second, &b)
	assert.Equal(t, a.TransactionNo, b.TransactionNo)
	assert.Equal(t, "BT-GW-0001", a.Reference)
	assert.Equal(t, int64(5000), a.Amount)

	var balance struct {
		Balance      int64  `json:"balance"`
		BalanceMajor string `json:"balance_major"`
	}
	decode(t, s.get("/api/v1/wallet/balance?user_id=1"), &balance)
	assert.Equal(t, int64(5000), balance.Balance)
	assert.Equal(t, "50.00", balance.BalanceMajor)
}

func TestBankTransferWebhook_RejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"user_id":1,"amount":"50.00","reference":"GW-0002"}`)

	status, resp := s.do(http.MethodPost, "/api/v1/funding/bank-transfer/webhook", body,
		map[string]string{SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeInvalidSignature, resp.Code)

	status, resp = s.do(http.MethodPost, "/api/v1/funding/bank-transfer/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeInvalidSignature, resp.Code)

	var balance struct {
		Balance int64 `json:"balance"`
	}
	decode(t, s.get("/api/v1/wallet/balance?user_id=1"), &balance)
	assert.Equal(t, int64(0), balance.Balance)
}

func TestBankTransferWebhook_InvalidAmount(t *testing.T) {
	s := newTestServer(t)
	_, resp := s.postSigned("/api/v1/funding/bank-transfer/webhook", map[string]interface{}{
		"user_id":   1,
		"amount":    "-3.00",
		"reference": "GW-0003",
	})
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestGetBalance_RequiresUserID(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, response.CodeParamError, s.get("/api/v1/wallet/balance").Code)
	assert.Equal(t, response.CodeParamError, s.get("/api/v1/wallet/balance?user_id=abc").Code)
}

func TestTopUp_DuplicateReferenceDifferentAmount(t *testing.T) {
	s := newTestServer(t)
	ok := s.postJSON("/api/v1/wallet/topup", map[string]interface{}{
		"user_id": 7, "amount": 1000, "reference": "ops-9",
	})
	require.Equal(t, response.CodeSuccess, ok.Code, ok.Message)

	dup := s.postJSON("/api/v1/wallet/topup", map[string]interface{}{
		"user_id": 7, "amount": 2500, "reference": "ops-9",
	})
	assert.Equal(t, response.CodeDuplicateReference, dup.Code)

	var page struct {
		Total int64 `json:"total"`
	}
	decode(t, s.get("/api/v1/wallet/transactions?user_id=7"), &page)
	assert.Equal(t, int64(1), page.Total)
}

func TestCardFlow(t *testing.T) {
	s := newTestServer(t)
	initiated := s.postJSON("/api/v1/funding/card/initiate", map[string]interface{}{
		"user_id": 3, "amount": 3000,
	})
	require.Equal(t, response.CodeSuccess, initiated.Code, initiated.Message)

	var card struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	decode(t, initiated, &card)
	assert.Equal(t, "PENDING", card.Status)

	_, mismatch := s.postSigned("/api/v1/funding/card/callback", map[string]interface{}{
		"user_id": 3, "reference": card.Reference, "amount": "31.00", "status": "success",
	})
	assert.Equal(t, response.CodeParamError, mismatch.Code)

	_, done := s.postSigned("/api/v1/funding/card/callback", map[string]interface{}{
		"user_id": 3, "reference": card.Reference, "amount": "30.00", "status": "success",
	})
	require.Equal(t, response.CodeSuccess, done.Code, done.Message)

	var balance struct {
		Balance int64 `json:"balance"`
	}
	decode(t, s.get("/api/v1/wallet/balance?user_id=3"), &balance)
	assert.Equal(t, int64(3000), balance.Balance)
}

func TestEnrollDefaultAndSettle(t *testing.T) {
	s := newTestServer(t)

	enrolled := s.postJSON("/api/v1/thrift/enroll", map[string]interface{}{
		"user_id":                   9,
		"plan_code":                 "DAILY-30",
		"daily_amount":              1000,
		"total_contribution_target": 30000,
		"settlement_amount":         30000,
		"start_date":                "2024-01-01",
	})
	require.Equal(t, response.CodeSuccess, enrolled.Code, enrolled.Message)
	var enrollment struct {
		ID int64 `json:"id"`
	}
	decode(t, enrolled, &enrollment)

	run := s.postJSON("/api/v1/admin/contribution/run", map[string]interface{}{"date": "2024-01-01"})
	require.Equal(t, response.CodeSuccess, run.Code, run.Message)
	var result service.DailyRunResult
	decode(t, run, &result)
	assert.Equal(t, 1, result.Defaulted)

	var defaults struct {
		Summary service.DefaultSummary `json:"summary"`
	}
	decode(t, s.get("/api/v1/thrift/defaults?user_id=9"), &defaults)
	assert.Equal(t, 1, defaults.Summary.Count)
	assert.Equal(t, int64(2000), defaults.Summary.TotalAmountDue)

	// 入账后自动结清
	topup := s.postJSON("/api/v1/wallet/topup", map[string]interface{}{
		"user_id": 9, "amount": 5000, "reference": "ops-1",
	})
	require.Equal(t, response.CodeSuccess, topup.Code, topup.Message)

	decode(t, s.get("/api/v1/thrift/defaults?user_id=9"), &defaults)
	assert.Equal(t, 0, defaults.Summary.Count)

	var check service.BalanceCheck
	decode(t, s.get("/api/v1/admin/wallet/verify?user_id=9"), &check)
	assert.True(t, check.Consistent)
	assert.Equal(t, int64(3000), check.Balance)

	var detail struct {
		Defaults []struct {
			Status string `json:"status"`
		} `json:"defaults"`
	}
	decode(t, s.get(fmt.Sprintf("/api/v1/thrift/enrollment?enrollment_id=%d", enrollment.ID)), &detail)
	require.Len(t, detail.Defaults, 1)
	assert.Equal(t, "SETTLED", detail.Defaults[0].Status)

	reconcile := s.postJSON("/api/v1/admin/settlement/reconcile", map[string]interface{}{"user_id": 9})
	require.Equal(t, response.CodeSuccess, reconcile.Code)
	var pass service.SettlementResult
	decode(t, reconcile, &pass)
	assert.Empty(t, pass.Settled)
	assert.Equal(t, int64(3000), pass.BalanceAfter)
}

func TestRunContributions_InvalidDate(t *testing.T) {
	s := newTestServer(t)
	resp := s.postJSON("/api/v1/admin/contribution/run", map[string]interface{}{"date": "2024-13-01"})
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestCancelEnrollment(t *testing.T) {
	s := newTestServer(t)
	missing := s.postJSON("/api/v1/thrift/cancel", map[string]interface{}{"enrollment_id": 42})
	assert.Equal(t, response.CodeEnrollmentNotFound, missing.Code)

	enrolled := s.postJSON("/api/v1/thrift/enroll", map[string]interface{}{
		"user_id":                   5,
		"plan_code":                 "DAILY-30",
		"daily_amount":              500,
		"total_contribution_target": 15000,
		"settlement_amount":         15000,
		"start_date":                "2024-02-01",
	})
	require.Equal(t, response.CodeSuccess, enrolled.Code, enrolled.Message)
	var enrollment struct {
		ID int64 `json:"id"`
	}
	decode(t, enrolled, &enrollment)

	cancelled := s.postJSON("/api/v1/thrift/cancel", map[string]interface{}{"enrollment_id": enrollment.ID})
	require.Equal(t, response.CodeSuccess, cancelled.Code, cancelled.Message)

	again := s.postJSON("/api/v1/thrift/cancel", map[string]interface{}{"enrollment_id": enrollment.ID})
	assert.Equal(t, response.CodeStatusTransitionDeny, again.Code)
}

func TestTopUp_RejectsNegativeUserID(t *testing.T) {
	s := newTestServer(t)
	resp := s.postJSON("/api/v1/wallet/topup", map[string]interface{}{
		"user_id": -5, "amount": 1000, "reference": "ops-neg",
	})
	assert.Equal(t, response.CodeParamError, resp.Code)

	_, hook := s.postSigned("/api/v1/funding/bank-transfer/webhook", map[string]interface{}{
		"user_id": -5, "amount": "10.00", "reference": "GW-neg",
	})
	assert.Equal(t, response.CodeParamError, hook.Code)
}
