package caller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newChainIdServer answers eth_chainId with chainId and fails every other method
func newChainIdServer(t *testing.T, chainId string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "eth_chainId" {
			resp["result"] = chainId
		} else {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewContractCallerFromEthereumClient(t *testing.T) {
	srv := newChainIdServer(t, "0x7a69")
	ethClient := ethereum.NewEthereumClient(&ethereum.EthereumClientConfig{
		BaseUrl:   srv.URL,
		BlockType: ethereum.BlockType_Latest,
	}, zap.NewNop())

	t.Run("Matching chain", func(t *testing.T) {
		cc, err := NewContractCallerFromEthereumClient(context.Background(), ethClient, &ContractCallerConfig{
			ExpectedChainId: 31337,
		}, zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, cc)
	})

	t.Run("Other chain", func(t *testing.T) {
		_, err := NewContractCallerFromEthereumClient(context.Background(), ethClient, &ContractCallerConfig{
			ExpectedChainId: 1,
		}, zap.NewNop())
		require.Error(t, err)
	})
}
