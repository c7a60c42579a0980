package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer answers the few JSON-RPC methods the connection logic needs
func rpcServer(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result any
		switch req.Method {
		case "eth_chainId":
			result = chainID
		case "eth_getBalance":
			result = "0xde0b6b3a7640000" // 1 ETH
		case "eth_getCode":
			result = "0x"
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, chainID int64, urls ...string) *EthClient {
	t.Helper()
	c, err := NewEthClient(Options{URLs: urls, FactoryAddress: "0x00000000000000000000000000000000000000f1", ChainID: chainID})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestEnsureConnectionFallsBack(t *testing.T) {
	good := rpcServer(t, "0xaa36a7")
	c := newTestClient(t, 0, "http://127.0.0.1:1", good.URL)

	bal, err := c.Balance(context.Background(), "0x00000000000000000000000000000000000000e1")
	require.NoError(t, err)
	assert.Equal(t, "1", FormatEther(bal))
	assert.Equal(t, int64(11155111), c.chainID.Int64())
}

func TestEnsureConnectionSkipsWrongChain(t *testing.T) {
	mainnet := rpcServer(t, "0x1")
	sepolia := rpcServer(t, "0xaa36a7")
	c := newTestClient(t, 11155111, mainnet.URL, sepolia.URL)

	cn, err := c.ensureConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), cn.chainID.Int64())
}

func TestEnsureConnectionUnavailable(t *testing.T) {
	c := newTestClient(t, 0, "http://127.0.0.1:1")
	_, err := c.Balance(context.Background(), "0x00000000000000000000000000000000000000e1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCampaignDataRequiresContract(t *testing.T) {
	srv := rpcServer(t, "0xaa36a7")
	c := newTestClient(t, 0, srv.URL)

	_, err := c.CampaignData(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = c.CampaignData(context.Background(), "0x00000000000000000000000000000000000000c1")
	assert.ErrorIs(t, err, ErrNoContract)
}
