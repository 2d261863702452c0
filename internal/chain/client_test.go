package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smelter-dev/smelter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers a fixed set of JSON-RPC methods
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) (interface{}, error)
	calls    map[string]int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		handlers: make(map[string]func([]json.RawMessage) (interface{}, error)),
		calls:    make(map[string]int),
	}
}

func (n *fakeNode) handle(method string, fn func(params []json.RawMessage) (interface{}, error)) {
	n.handlers[method] = fn
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	fn, ok := n.handlers[req.Method]
	n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	} else if result, err := fn(req.Params); err != nil {
		resp["error"] = map[string]interface{}{"code": -32000, "message": err.Error()}
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func dialFake(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	c := NewClient(&ClientConfig{URL: srv.URL, PollInterval: time.Millisecond})
	require.NoError(t, c.Dial(context.Background()))
	t.Cleanup(c.Close)
	return c
}

const ctorABI = `[{"type":"constructor","inputs":[{"name":"owner","type":"address"},{"name":"supply","type":"uint256"}]}]`

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(nil)
	_, err := c.Accounts(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_AccountsGasPriceGenesis(t *testing.T) {
	node := newFakeNode()
	node.handle("eth_accounts", func([]json.RawMessage) (interface{}, error) {
		return []string{"0x00000000000000000000000000000000000000aa"}, nil
	})
	node.handle("eth_gasPrice", func([]json.RawMessage) (interface{}, error) {
		return "0x3b9aca00", nil
	})
	node.handle("eth_getBlockByNumber", func(params []json.RawMessage) (interface{}, error) {
		return map[string]string{
			"number": "0x0",
			"hash":   "0x1111111111111111111111111111111111111111111111111111111111111111",
		}, nil
	})

	c := dialFake(t, node)
	ctx := context.Background()

	accounts, err := c.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, common.HexToAddress("0xaa"), accounts[0])

	price, err := c.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000), price)

	block, err := c.GenesisBlock(ctx)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"), block.Hash)
	assert.Equal(t, int64(0), block.Number.Int64())
}

func TestClient_GenesisMissing(t *testing.T) {
	node := newFakeNode()
	node.handle("eth_getBlockByNumber", func([]json.RawMessage) (interface{}, error) {
		return nil, nil
	})

	block, err := dialFake(t, node).GenesisBlock(context.Background())
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestClient_DeployAndWait(t *testing.T) {
	created := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	var sent sendTxArgs
	receiptPolls := 0
	blockPolls := 0

	node := newFakeNode()
	node.handle("eth_sendTransaction", func(params []json.RawMessage) (interface{}, error) {
		if err := json.Unmarshal(params[0], &sent); err != nil {
			return nil, err
		}
		return "0x2222222222222222222222222222222222222222222222222222222222222222", nil
	})
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, error) {
		receiptPolls++
		if receiptPolls < 2 {
			return nil, nil
		}
		return map[string]interface{}{
			"status":          "0x1",
			"blockNumber":     "0x10",
			"contractAddress": created.Hex(),
		}, nil
	})
	node.handle("eth_blockNumber", func([]json.RawMessage) (interface{}, error) {
		blockPolls++
		return "0x" + big.NewInt(int64(0x10+blockPolls)).Text(16), nil
	})

	c := dialFake(t, node)

	parsed, err := abi.JSON(strings.NewReader(ctorABI))
	require.NoError(t, err)

	owner := common.HexToAddress("0xaa")
	args := []types.Token{
		{Type: mustType(t, "address"), Value: owner},
		{Type: mustType(t, "uint256"), Value: big.NewInt(1000)},
	}

	pending, err := c.Deploy(context.Background(), DeployRequest{
		ABI:           parsed,
		Bytecode:      []byte{0x60, 0x80},
		Args:          args,
		From:          owner,
		GasPrice:      big.NewInt(5),
		Gas:           2_000_000,
		Confirmations: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222"), pending.TxHash())

	assert.Equal(t, owner, sent.From)
	assert.Equal(t, uint64(2_000_000), uint64(sent.Gas))
	assert.Equal(t, []byte{0x60, 0x80}, []byte(sent.Data[:2]))
	assert.Len(t, sent.Data, 2+64)

	addr, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, created, addr)
	assert.GreaterOrEqual(t, node.count("eth_blockNumber"), 2)
}

func TestClient_DeployEncodeMismatch(t *testing.T) {
	node := newFakeNode()
	c := dialFake(t, node)

	parsed, err := abi.JSON(strings.NewReader(ctorABI))
	require.NoError(t, err)

	_, err = c.Deploy(context.Background(), DeployRequest{
		ABI:  parsed,
		Args: []types.Token{{Type: mustType(t, "bool"), Value: true}},
	})
	assert.ErrorIs(t, err, ErrEncodeArgs)
	assert.Equal(t, 0, node.count("eth_sendTransaction"))
}

func TestClient_WaitFailedReceipt(t *testing.T) {
	node := newFakeNode()
	node.handle("eth_sendTransaction", func([]json.RawMessage) (interface{}, error) {
		return "0x3333333333333333333333333333333333333333333333333333333333333333", nil
	})
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"status": "0x0", "blockNumber": "0x1"}, nil
	})

	pending, err := dialFake(t, node).Deploy(context.Background(), DeployRequest{})
	require.NoError(t, err)

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestClient_WaitCancelled(t *testing.T) {
	node := newFakeNode()
	node.handle("eth_sendTransaction", func([]json.RawMessage) (interface{}, error) {
		return "0x4444444444444444444444444444444444444444444444444444444444444444", nil
	})
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, error) {
		return nil, nil
	})

	pending, err := dialFake(t, node).Deploy(context.Background(), DeployRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = pending.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline"), err.Error())
}

func TestClient_RPCError(t *testing.T) {
	node := newFakeNode()
	node.handle("eth_accounts", func([]json.RawMessage) (interface{}, error) {
		return nil, errors.New("boom")
	})

	_, err := dialFake(t, node).Accounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func mustType(t *testing.T, kind string) abi.Type {
	t.Helper()
	typ, err := abi.NewType(kind, "", nil)
	require.NoError(t, err)
	return typ
}
