package chain

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and provides helper methods for the watcher.
type Client struct {
	rpcURL string

	mu        sync.RWMutex
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcURL:    rpcURL,
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Reconnect drops the current transport and dials the endpoint again.
func (c *Client) Reconnect(ctx context.Context) error {
	rpcClient, err := rpc.DialContext(ctx, c.rpcURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.rpcClient
	c.rpcClient = rpcClient
	c.ethClient = ethclient.NewClient(rpcClient)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (c *Client) eth() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ethClient
}

// HeadNumber returns the current head height of the source chain.
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	return c.eth().BlockNumber(ctx)
}

// FilterLogs returns logs for the contract and topic0 in the given range.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	contract common.Address,
	topic0 common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{topic0}},
	}
	return c.eth().FilterLogs(ctx, query)
}

// IsConnectionError reports whether err looks like a transport failure
// rather than a query the node answered with an error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
