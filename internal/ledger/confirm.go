// internal/ledger/confirm.go
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jason-s-yu/tourney/internal/poll"
)

// WaitMined polls for the receipt of a known transaction. It returns
// ErrNotConfirmed when the attempts run out, which does not mean the
// transaction failed, and ErrReverted when it was mined with a failed status.
func WaitMined(ctx context.Context, backend Backend, hash common.Hash, p poll.Policy) (*types.Receipt, error) {
	var receipt *types.Receipt
	ok, err := poll.Until(ctx, p, func(ctx context.Context) (bool, error) {
		r, err := backend.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return false, nil
			}
			return false, err
		}
		receipt = r
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfirmed, hash.Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	return receipt, nil
}
