package evm

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fundrail/custodian/core"
)

const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var _ core.TokenLedger = (*Ledger)(nil)

// Ledger moves ERC-20 tokens on behalf of the custody account opts.From
// signs for. One Ledger serves every token address the engine touches.
type Ledger struct {
	backend Backend
	opts    *bind.TransactOpts
	abi     abi.ABI

	mu     sync.Mutex
	tokens map[common.Address]*bind.BoundContract
}

func NewLedger(backend Backend, opts *bind.TransactOpts) *Ledger {
	return &Ledger{
		backend: backend,
		opts:    opts,
		abi:     mustParseABI(erc20ABI),
		tokens:  make(map[common.Address]*bind.BoundContract),
	}
}

func (l *Ledger) contract(token common.Address) *bind.BoundContract {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.tokens[token]
	if !ok {
		c = bind.NewBoundContract(token, l.abi, l.backend, l.backend, l.backend)
		l.tokens[token] = c
	}
	return c
}

func (l *Ledger) transact(ctx context.Context, token common.Address, method string, args ...interface{}) error {
	tx, err := l.contract(token).Transact(withContext(l.opts, ctx), method, args...)
	if err != nil {
		return errors.Wrapf(err, "%s on token %s", method, token.Hex())
	}
	_, err = waitSuccess(ctx, l.backend, tx)
	return err
}

func (l *Ledger) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	return l.transact(ctx, token, "transferFrom", from, to, amount)
}

func (l *Ledger) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	return l.transact(ctx, token, "transfer", to, amount)
}

func (l *Ledger) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	return l.transact(ctx, token, "approve", spender, amount)
}

func (l *Ledger) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out []interface{}
	err := l.contract(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner)
	if err != nil {
		return nil, errors.Wrapf(err, "balanceOf on token %s", token.Hex())
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected balanceOf result %T", out[0])
	}
	return bal, nil
}
