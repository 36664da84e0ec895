package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharding-experiment/facilitator/internal/coordinator"
	"github.com/sharding-experiment/facilitator/internal/journal"
	"github.com/sharding-experiment/facilitator/internal/metrics"
	"github.com/sharding-experiment/facilitator/internal/protocol"
	"github.com/sharding-experiment/facilitator/internal/simledger"
)

var (
	facilitator = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	beneficiary = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newTestService(t *testing.T, cfg simledger.PairConfig) (*Service, *simledger.Pair) {
	t.Helper()
	p, err := simledger.NewPair(cfg)
	require.NoError(t, err)
	funds := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	p.FundStaker(facilitator, funds)
	require.NoError(t, p.FundFacilitator(facilitator, funds))

	j, err := journal.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	m := metrics.New()

	c, err := coordinator.New(coordinator.Config{
		Origin:    coordinator.Ledger{Gateway: p.Gateway, Anchor: p.OriginAnchor, Proofs: p.Origin},
		Auxiliary: coordinator.Ledger{Gateway: p.CoGateway, Anchor: p.AuxiliaryAnchor, Proofs: p.Auxiliary},
		Metrics:   m,
		Journal:   j,
	})
	require.NoError(t, err)
	return NewService(c, j, m, 0), p
}

func do(t *testing.T, s *Service, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
}

func stakeBody(staker common.Address) protocol.StakeRequest {
	return protocol.StakeRequest{
		Staker:      staker.Hex(),
		Amount:      "1000000000000",
		Beneficiary: beneficiary.Hex(),
		GasPrice:    "5",
		GasLimit:    "150000000",
		TxOptions:   protocol.TxOptionsRequest{From: facilitator.Hex()},
	}
}

func confirmBody(res *coordinator.DeclareResult) protocol.ConfirmRequest {
	m := res.Message
	return protocol.ConfirmRequest{
		Sender:      m.Sender.Hex(),
		Nonce:       m.Nonce.String(),
		Amount:      m.Amount.String(),
		Beneficiary: m.Beneficiary.Hex(),
		GasPrice:    m.GasPrice.String(),
		GasLimit:    m.GasLimit.String(),
		HashLock:    m.HashLock.Hex(),
		TxOptions:   protocol.TxOptionsRequest{From: facilitator.Hex()},
	}
}

func TestStakeFlowOverHTTP(t *testing.T) {
	s, _ := newTestService(t, simledger.PairConfig{Bounty: big.NewInt(100), AutoAnchor: true})

	rec := do(t, s, http.MethodPost, "/stake", stakeBody(facilitator))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var declared coordinator.DeclareResult
	decodeBody(t, rec, &declared)
	require.NotNil(t, declared.UnlockSecret)
	require.Equal(t, declared.Message.Hash(), declared.MessageHash)

	progress := protocol.ProgressRequest{
		MessageHash:  declared.MessageHash.Hex(),
		UnlockSecret: declared.UnlockSecret.Hex(),
		TxOptions:    protocol.TxOptionsRequest{From: facilitator.Hex()},
	}
	rec = do(t, s, http.MethodPost, "/stake/progress/origin", progress)
	require.Equal(t, http.StatusConflict, rec.Code)
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "sequencing", errResp.Kind)

	rec = do(t, s, http.MethodPost, "/stake/confirm", confirmBody(&declared))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	complete := protocol.CompleteRequest{ConfirmRequest: confirmBody(&declared), UnlockSecret: declared.UnlockSecret.Hex()}
	rec = do(t, s, http.MethodPost, "/stake/progress", complete)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out coordinator.CompositeResult
	decodeBody(t, rec, &out)
	require.NotNil(t, out.Origin)
	require.NotNil(t, out.Auxiliary)

	rec = do(t, s, http.MethodGet, "/messages/"+declared.MessageHash.Hex()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st coordinator.StatusResult
	decodeBody(t, rec, &st)
	assert.Equal(t, protocol.Progressed, st.Origin.Outbox)
	assert.Equal(t, protocol.Undeclared, st.Origin.Inbox)
	assert.Equal(t, protocol.Progressed, st.Auxiliary.Inbox)
	assert.Contains(t, rec.Body.String(), `"inbox":"undeclared"`)

	rec = do(t, s, http.MethodGet, "/messages/"+declared.MessageHash.Hex()+"/journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var steps []journal.Entry
	decodeBody(t, rec, &steps)
	assert.Len(t, steps, 7)
}

func TestErrorMapping(t *testing.T) {
	s, p := newTestService(t, simledger.PairConfig{Bounty: big.NewInt(100)})
	third := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	p.FundStaker(third, big.NewInt(1_000_000_000_000_000))

	bad := stakeBody(facilitator)
	bad.Beneficiary = "0x1234"
	rec := do(t, s, http.MethodPost, "/stake", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "beneficiary", errResp.Field)
	assert.False(t, errResp.Retryable)

	rec = do(t, s, http.MethodPost, "/stake", map[string]string{"stakr": "typo"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/stake", stakeBody(third))
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = do(t, s, http.MethodPost, "/stake", stakeBody(facilitator))
	require.Equal(t, http.StatusOK, rec.Code)
	var declared coordinator.DeclareResult
	decodeBody(t, rec, &declared)

	// nothing anchored on auxiliary yet
	rec = do(t, s, http.MethodPost, "/stake/confirm", confirmBody(&declared))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "proof", errResp.Kind)
	assert.True(t, errResp.Retryable)

	_, err := p.AnchorOrigin()
	require.NoError(t, err)
	rec = do(t, s, http.MethodPost, "/stake/confirm", confirmBody(&declared))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	progress := protocol.ProgressRequest{
		MessageHash:  declared.MessageHash.Hex(),
		UnlockSecret: common.HexToHash("0xbad").Hex(),
		TxOptions:    protocol.TxOptionsRequest{From: facilitator.Hex()},
	}
	rec = do(t, s, http.MethodPost, "/stake/progress/auxiliary", progress)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "submission", errResp.Kind)

	rec = do(t, s, http.MethodGet, "/messages/0x12/status", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompositePartialBody(t *testing.T) {
	s, p := newTestService(t, simledger.PairConfig{AutoAnchor: true})
	rec := do(t, s, http.MethodPost, "/stake", stakeBody(facilitator))
	require.Equal(t, http.StatusOK, rec.Code)
	var declared coordinator.DeclareResult
	decodeBody(t, rec, &declared)

	p.CoGateway.FailNext("progressMint", errors.New("node unavailable"))
	complete := protocol.CompleteRequest{ConfirmRequest: confirmBody(&declared), UnlockSecret: declared.UnlockSecret.Hex()}
	rec = do(t, s, http.MethodPost, "/stake/progress", complete)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Kind    string                      `json:"kind"`
		Partial coordinator.CompositeResult `json:"partial"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "submission", body.Kind)
	assert.NotNil(t, body.Partial.Origin)
	assert.Nil(t, body.Partial.Auxiliary)
}

func TestStakeHashMismatchBody(t *testing.T) {
	s, p := newTestService(t, simledger.PairConfig{})
	p.Gateway.CorruptDeclaredHash(true)

	rec := do(t, s, http.MethodPost, "/stake", stakeBody(facilitator))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Kind    string                    `json:"kind"`
		Partial coordinator.DeclareResult `json:"partial"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "hash_mismatch", body.Kind)
	require.NotNil(t, body.Partial.UnlockSecret)
	assert.Equal(t, protocol.LockFor(*body.Partial.UnlockSecret), body.Partial.HashLock)
	require.NotNil(t, body.Partial.Receipt)
	assert.Equal(t, body.Partial.Message.Hash(), body.Partial.MessageHash)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&protocol.ValidationError{Field: "amount"}, http.StatusBadRequest},
		{&protocol.PreconditionError{}, http.StatusPreconditionFailed},
		{&protocol.SequencingError{}, http.StatusConflict},
		{&protocol.ProofError{Kind: protocol.ProofCheckpointStale}, http.StatusServiceUnavailable},
		{&protocol.ProofError{Kind: protocol.ProofKeyAbsent}, http.StatusServiceUnavailable},
		{&protocol.ProofError{Kind: protocol.ProofMalformed}, http.StatusBadGateway},
		{fmt.Errorf("confirm: %w", &protocol.ProofError{Kind: protocol.ProofMalformed}), http.StatusBadGateway},
		{&protocol.SubmissionError{Err: protocol.ErrReverted}, http.StatusBadGateway},
		{fmt.Errorf("stake: %w", protocol.ErrMessageHashMismatch), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), "%v", tt.err)
	}
}

func TestRequestID(t *testing.T) {
	s, _ := newTestService(t, simledger.PairConfig{})

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	require.NoError(t, err)

	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestService(t, simledger.PairConfig{Bounty: big.NewInt(7), AutoAnchor: true})

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status  string                                `json:"status"`
		Ledgers map[string]*coordinator.LedgerHealth `json:"ledgers"`
	}
	decodeBody(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	require.Contains(t, health.Ledgers, "origin")
	assert.Equal(t, simledger.CoGatewayAddress, health.Ledgers["auxiliary"].Gateway)
	assert.Equal(t, int64(7), health.Ledgers["origin"].Bounty.Int64())

	rec = do(t, s, http.MethodPost, "/stake", stakeBody(facilitator))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `facilitator_operations_total{op="stake",outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `facilitator_http_requests_total{method="POST",path="/stake",status="200"} 1`)
}
