// Package evm implements the engine's external collaborators against
// on-chain contracts: an ERC-20 donation token, a recipient registry and a
// Sablier-shaped streaming hub.
package evm

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Backend is the slice of ethclient.Client the adapters need.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func withContext(opts *bind.TransactOpts, ctx context.Context) *bind.TransactOpts {
	o := *opts
	o.Context = ctx
	return &o
}

// waitSuccess blocks until the transaction is mined and rejects reverted
// receipts, so a failed on-chain transfer surfaces as an error.
func waitSuccess(ctx context.Context, backend Backend, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "wait for tx %s", tx.Hash().Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}
