package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fundrail/custodian/core"
)

const directoryABI = `[
	{"name":"resolve","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"string"}],"outputs":[{"name":"wallet","type":"address"},{"name":"active","type":"bool"}]},
	{"name":"isActiveWallet","type":"function","stateMutability":"view","inputs":[{"name":"wallet","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

var _ core.RecipientDirectory = (*Directory)(nil)

// Directory reads the on-chain recipient registry. The registry owns
// identity verification; the engine only consults it.
type Directory struct {
	contract *bind.BoundContract
}

func NewDirectory(backend Backend, addr common.Address) *Directory {
	return &Directory{
		contract: bind.NewBoundContract(addr, mustParseABI(directoryABI), backend, backend, backend),
	}
}

func (d *Directory) Resolve(ctx context.Context, id string) (common.Address, bool, error) {
	var out []interface{}
	err := d.contract.Call(&bind.CallOpts{Context: ctx}, &out, "resolve", id)
	if err != nil {
		return common.Address{}, false, errors.Wrapf(err, "resolve %q", id)
	}
	wallet, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, false, errors.Errorf("unexpected resolve result %T", out[0])
	}
	active, ok := out[1].(bool)
	if !ok {
		return common.Address{}, false, errors.Errorf("unexpected resolve result %T", out[1])
	}
	// the registry reports the zero address for ids it never verified
	if wallet == (common.Address{}) {
		return common.Address{}, false, errors.Errorf("recipient %q not found", id)
	}
	return wallet, active, nil
}

func (d *Directory) IsActiveWallet(ctx context.Context, addr common.Address) (bool, error) {
	var out []interface{}
	err := d.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isActiveWallet", addr)
	if err != nil {
		return false, errors.Wrapf(err, "isActiveWallet %s", addr.Hex())
	}
	active, ok := out[0].(bool)
	if !ok {
		return false, errors.Errorf("unexpected isActiveWallet result %T", out[0])
	}
	return active, nil
}
