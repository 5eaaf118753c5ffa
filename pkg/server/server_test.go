package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/contractCaller"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence/memory"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/snapshot"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

var testAsset = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")

type testServer struct {
	server  *Server
	service *snapshot.Service
	chain   *contractCaller.FakeContractCaller
	store   *memory.MemoryPersistence
}

func newTestServer(t *testing.T, cfg *Config) *testServer {
	t.Helper()

	store := memory.NewMemoryPersistence(zap.NewNop())
	chain := contractCaller.NewFakeContractCaller()
	chain.Head = 1_000_000
	service, err := snapshot.NewService(&snapshot.ServiceConfig{}, store, snapshot.NewChainBalanceFetcher(chain, 0), zap.NewNop())
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	return &testServer{
		server:  NewServer(cfg, service, zap.NewNop()),
		service: service,
		chain:   chain,
		store:   store,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	ts.server.GetHandler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func balancesRequest() types.CreateSnapshotFromBalancesRequest {
	return types.CreateSnapshotFromBalancesRequest{
		Name:         "airdrop",
		ChainID:      1,
		AssetAddress: testAsset.Hex(),
		BlockNumber:  10,
		Balances: []types.AccountBalanceJSON{
			{Address: common.HexToAddress("0x1").Hex(), Balance: "100"},
			{Address: common.HexToAddress("0x2").Hex(), Balance: "200"},
			{Address: common.HexToAddress("0x3").Hex(), Balance: "300"},
		},
	}
}

func TestCreateSnapshotFromBalances_ProofAndVerify(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/snapshots/balances", balancesRequest())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[types.SnapshotResponse](t, w)
	assert.Equal(t, "SUCCESS", created.Status)
	assert.Equal(t, "600", created.TotalAssetAmount)
	assert.Equal(t, 3, created.LeafCount)
	assert.Equal(t, 2, created.Depth)

	w = ts.do(t, http.MethodGet, "/v1/snapshots/"+created.ID+"/proof?address="+common.HexToAddress("0x2").Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	proofResp := decode[types.ProofResponse](t, w)
	assert.Equal(t, "200", proofResp.Balance)
	assert.Equal(t, created.RootHash, proofResp.RootHash)
	assert.Len(t, proofResp.Path, 2)
	assert.Len(t, proofResp.Proof, 2)

	proof, err := merkle.ProofFromResponse(&proofResp)
	require.NoError(t, err)
	assert.True(t, proof.Verify(merkle.Keccak256))

	verify := types.VerifyRequest{
		Address:      proofResp.Address,
		Balance:      proofResp.Balance,
		RootHash:     proofResp.RootHash,
		HashFunction: proofResp.HashFunction,
		Path:         proofResp.Path,
	}
	w = ts.do(t, http.MethodPost, "/v1/verify", verify)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[types.VerifyResponse](t, w).Valid)

	verify.Balance = "201"
	w = ts.do(t, http.MethodPost, "/v1/verify", verify)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[types.VerifyResponse](t, w).Valid)

	verify.Path = nil
	verify.Balance = proofResp.Balance
	w = ts.do(t, http.MethodPost, "/v1/verify", verify)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[types.VerifyResponse](t, w).Valid)
}

func TestGetTree(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/snapshots/balances", balancesRequest())
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[types.SnapshotResponse](t, w)

	w = ts.do(t, http.MethodGet, "/v1/snapshots/"+created.ID+"/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[merkle.TreeView](t, w)
	assert.Equal(t, created.RootHash, view.Hash.Hex())
	assert.Equal(t, "KECCAK_256", view.HashFn)

	leaves, err := merkle.AuditTreeView(&view, merkle.Keccak256)
	require.NoError(t, err)
	assert.Len(t, leaves, 3)
}

func TestChainSnapshotLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.chain.SetBalance(testAsset, common.HexToAddress("0xa"), big.NewInt(5))
	ts.chain.SetBalance(testAsset, common.HexToAddress("0xb"), big.NewInt(6))

	req := types.CreateSnapshotRequest{
		Name:         "holders",
		ChainID:      1,
		AssetAddress: testAsset.Hex(),
		BlockNumber:  50,
	}
	w := ts.do(t, http.MethodPost, "/v1/snapshots", req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode[types.CreateSnapshotResponse](t, w).ID
	require.NotEmpty(t, id)

	w = ts.do(t, http.MethodGet, "/v1/snapshots/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PENDING", decode[types.SnapshotResponse](t, w).Status)

	w = ts.do(t, http.MethodGet, "/v1/snapshots/"+id+"/tree", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := ts.service.ProcessPending(context.Background())
	require.NoError(t, err)

	w = ts.do(t, http.MethodGet, "/v1/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[types.SnapshotsResponse](t, w)
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, "SUCCESS", list.Snapshots[0].Status)
	assert.Equal(t, "11", list.Snapshots[0].TotalAssetAmount)

	w = ts.do(t, http.MethodDelete, "/v1/snapshots/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/snapshots/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/snapshots/balances", balancesRequest())
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[types.SnapshotResponse](t, w).ID

	duplicate := balancesRequest()
	duplicate.Balances = append(duplicate.Balances, duplicate.Balances[0])

	testCases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"Unknown snapshot", http.MethodGet, "/v1/snapshots/missing", nil, http.StatusNotFound},
		{"Unknown snapshot proof", http.MethodGet, "/v1/snapshots/missing/proof?address=" + testAsset.Hex(), nil, http.StatusNotFound},
		{"Address not in tree", http.MethodGet, "/v1/snapshots/" + id + "/proof?address=" + testAsset.Hex(), nil, http.StatusNotFound},
		{"Malformed address", http.MethodGet, "/v1/snapshots/" + id + "/proof?address=0x12", nil, http.StatusBadRequest},
		{"Missing name", http.MethodPost, "/v1/snapshots", types.CreateSnapshotRequest{ChainID: 1, AssetAddress: testAsset.Hex()}, http.StatusBadRequest},
		{"Duplicate address", http.MethodPost, "/v1/snapshots/balances", duplicate, http.StatusBadRequest},
		{"Unknown hash function", http.MethodPost, "/v1/verify", types.VerifyRequest{Address: testAsset.Hex(), Balance: "1", RootHash: "0x00", HashFunction: "MD5"}, http.StatusBadRequest},
		{"Method not allowed", http.MethodPut, "/v1/snapshots", nil, http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	t.Run("Invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/snapshots", bytes.NewReader([]byte("invalid json")))
		w := httptest.NewRecorder()
		ts.server.GetHandler().ServeHTTP(w, req)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotEmpty(t, decode[types.ErrorResponse](t, w).Error)
	})
}

func TestRateLimiting(t *testing.T) {
	ts := newTestServer(t, &Config{ReadRPS: 0.001, WriteRPS: 0.001})

	w := ts.do(t, http.MethodGet, "/v1/snapshots", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/v1/snapshots", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// writes have their own budget
	w = ts.do(t, http.MethodPost, "/v1/snapshots/balances", balancesRequest())
	assert.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(t, http.MethodPost, "/v1/snapshots/balances", balancesRequest())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// health is never throttled
	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, ts.store.Close())
	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
