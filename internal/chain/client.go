package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/smelter-dev/smelter/internal/logging"
	"golang.org/x/time/rate"
)

// ClientConfig holds configuration for the JSON-RPC client
type ClientConfig struct {
	URL          string
	PollInterval time.Duration // receipt and block polling while waiting
}

// DefaultClientConfig returns defaults for a local development node
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:          "http://127.0.0.1:8545",
		PollInterval: time.Second,
	}
}

// Client talks to a node over JSON-RPC. Transactions are sent with
// eth_sendTransaction, so the sender must be an account the node manages.
type Client struct {
	config *ClientConfig
	rpc    *rpc.Client
	eth    *ethclient.Client
	mu     sync.RWMutex
}

// NewClient creates a client; call Dial before use
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultClientConfig().PollInterval
	}
	return &Client{config: config}
}

// Dial connects to the node. http(s) and ws(s) URLs are supported.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rpcClient, err := rpc.DialContext(ctx, c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.URL, err)
	}
	c.rpc = rpcClient
	c.eth = ethclient.NewClient(rpcClient)
	return nil
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
		c.rpc = nil
	}
}

func (c *Client) clients() (*rpc.Client, *ethclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rpc == nil {
		return nil, nil, ErrNotConnected
	}
	return c.rpc, c.eth, nil
}

// Accounts returns the accounts managed by the node
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	rpcClient, _, err := c.clients()
	if err != nil {
		return nil, err
	}

	var accounts []common.Address
	if err := rpcClient.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// GasPrice returns the node's suggested gas price
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	_, eth, err := c.clients()
	if err != nil {
		return nil, err
	}

	price, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return price, nil
}

type rpcBlock struct {
	Number *hexutil.Big `json:"number"`
	Hash   common.Hash  `json:"hash"`
}

// GenesisBlock returns block 0 as reported by the node
func (c *Client) GenesisBlock(ctx context.Context) (*Block, error) {
	rpcClient, _, err := c.clients()
	if err != nil {
		return nil, err
	}

	// The node's hash is used as is rather than recomputed from the header,
	// dev chains do not always hash headers the mainnet way.
	var block *rpcBlock
	if err := rpcClient.CallContext(ctx, &block, "eth_getBlockByNumber", "0x0", false); err != nil {
		return nil, fmt.Errorf("failed to get genesis block: %w", err)
	}
	if block == nil {
		return nil, nil
	}
	return &Block{Number: (*big.Int)(block.Number), Hash: block.Hash}, nil
}

type sendTxArgs struct {
	From     common.Address `json:"from"`
	Data     hexutil.Bytes  `json:"data"`
	Gas      hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big   `json:"gasPrice,omitempty"`
}

// Deploy encodes and broadcasts a contract-creation transaction
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (PendingDeployment, error) {
	rpcClient, _, err := c.clients()
	if err != nil {
		return nil, err
	}

	data, err := EncodeDeployment(req.ABI, req.Bytecode, req.Args)
	if err != nil {
		return nil, err
	}

	args := sendTxArgs{
		From: req.From,
		Data: data,
		Gas:  hexutil.Uint64(req.Gas),
	}
	if req.GasPrice != nil {
		args.GasPrice = (*hexutil.Big)(req.GasPrice)
	}

	var hash common.Hash
	if err := rpcClient.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	logging.Debug("contract creation sent", logging.TxHash(hash), logging.Address(req.From))

	return &pendingDeployment{
		client:        c,
		hash:          hash,
		confirmations: req.Confirmations,
	}, nil
}

type rpcReceipt struct {
	Status          *hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	ContractAddress *common.Address `json:"contractAddress"`
}

func (c *Client) receipt(ctx context.Context, hash common.Hash) (*rpcReceipt, error) {
	rpcClient, _, err := c.clients()
	if err != nil {
		return nil, err
	}

	var receipt *rpcReceipt
	if err := rpcClient.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt != nil && receipt.BlockNumber == nil {
		// some nodes return pending receipts without a block
		return nil, nil
	}
	return receipt, nil
}

// BlockNumber returns the current block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	_, eth, err := c.clients()
	if err != nil {
		return 0, err
	}
	return eth.BlockNumber(ctx)
}

type pendingDeployment struct {
	client        *Client
	hash          common.Hash
	confirmations uint64
}

func (p *pendingDeployment) TxHash() common.Hash {
	return p.hash
}

// Wait polls for the receipt, then for the confirmation depth
func (p *pendingDeployment) Wait(ctx context.Context) (common.Address, error) {
	limiter := rate.NewLimiter(rate.Every(p.client.config.PollInterval), 1)

	var receipt *rpcReceipt
	for receipt == nil {
		if err := limiter.Wait(ctx); err != nil {
			return common.Address{}, fmt.Errorf("failed waiting for transaction %s: %w", p.hash.Hex(), err)
		}
		r, err := p.client.receipt(ctx, p.hash)
		if err != nil {
			return common.Address{}, err
		}
		receipt = r
	}

	if receipt.Status != nil && uint64(*receipt.Status) == 0 {
		return common.Address{}, fmt.Errorf("%w: %s", ErrTransactionFailed, p.hash.Hex())
	}
	if receipt.ContractAddress == nil {
		return common.Address{}, fmt.Errorf("receipt for %s has no contract address", p.hash.Hex())
	}

	if p.confirmations > 0 {
		target := (*big.Int)(receipt.BlockNumber).Uint64() + p.confirmations
		for {
			if err := limiter.Wait(ctx); err != nil {
				return common.Address{}, fmt.Errorf("failed waiting for confirmations of %s: %w", p.hash.Hex(), err)
			}
			current, err := p.client.BlockNumber(ctx)
			if err != nil {
				return common.Address{}, fmt.Errorf("failed to get block number: %w", err)
			}
			if current >= target {
				break
			}
		}
	}

	return *receipt.ContractAddress, nil
}

var _ Connector = (*Client)(nil)
