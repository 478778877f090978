// internal/ledger/backend.go
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of the node RPC surface this package uses.
// *Client satisfies it against a live endpoint; ledgertest.Chain satisfies it in tests.
type Backend interface {
	ethereum.ContractCaller
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client joins the typed eth client with the raw RPC client for batching.
type Client struct {
	*ethclient.Client
	raw *rpc.Client
}

// Dial connects to the ledger RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc %s: %w", url, err)
	}
	return &Client{Client: ethclient.NewClient(raw), raw: raw}, nil
}

// BatchCallContext sends all elements in one round-trip.
func (c *Client) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	return c.raw.BatchCallContext(ctx, b)
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.raw.Close()
}
