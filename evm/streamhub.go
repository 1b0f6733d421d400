package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/fundrail/custodian/core"
)

const streamHubABI = `[
	{"name":"createStream","type":"function","inputs":[{"name":"recipient","type":"address"},{"name":"deposit","type":"uint256"},{"name":"tokenAddress","type":"address"},{"name":"startTime","type":"uint256"},{"name":"stopTime","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getStream","type":"function","stateMutability":"view","inputs":[{"name":"streamId","type":"uint256"}],"outputs":[{"name":"sender","type":"address"},{"name":"recipient","type":"address"},{"name":"deposit","type":"uint256"},{"name":"tokenAddress","type":"address"},{"name":"startTime","type":"uint256"},{"name":"stopTime","type":"uint256"},{"name":"remainingBalance","type":"uint256"},{"name":"ratePerSecond","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"streamId","type":"uint256"},{"name":"who","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]},
	{"name":"cancelStream","type":"function","inputs":[{"name":"streamId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// createStreamTopic identifies the CreateStream event the hub emits; the
// stream id rides in the first indexed topic.
var createStreamTopic = common.BytesToHash(crypto.Keccak256([]byte(
	"CreateStream(uint256,address,address,uint256,address,uint256,uint256)")))

var _ core.StreamHub = (*StreamHub)(nil)

// StreamHub drives a Sablier-shaped streaming contract.
type StreamHub struct {
	backend  Backend
	opts     *bind.TransactOpts
	addr     common.Address
	contract *bind.BoundContract
}

func NewStreamHub(backend Backend, opts *bind.TransactOpts, addr common.Address) *StreamHub {
	return &StreamHub{
		backend:  backend,
		opts:     opts,
		addr:     addr,
		contract: bind.NewBoundContract(addr, mustParseABI(streamHubABI), backend, backend, backend),
	}
}

// Address is the spender custody approves before streams are opened.
func (h *StreamHub) Address() common.Address {
	return h.addr
}

func (h *StreamHub) OpenDisbursement(ctx context.Context, recipient common.Address, amount *big.Int, token common.Address, duration time.Duration) (uint64, error) {
	start := time.Now().Add(time.Minute)
	stop := start.Add(duration)

	tx, err := h.contract.Transact(withContext(h.opts, ctx), "createStream",
		recipient, amount, token, big.NewInt(start.Unix()), big.NewInt(stop.Unix()))
	if err != nil {
		return 0, errors.Wrapf(err, "createStream for %s", recipient.Hex())
	}
	receipt, err := waitSuccess(ctx, h.backend, tx)
	if err != nil {
		return 0, err
	}

	for _, l := range receipt.Logs {
		if l.Address == h.addr && len(l.Topics) > 1 && l.Topics[0] == createStreamTopic {
			return new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(), nil
		}
	}
	return 0, errors.Errorf("tx %s emitted no CreateStream event", tx.Hash().Hex())
}

func (h *StreamHub) GetDisbursement(ctx context.Context, id uint64) (*core.Disbursement, error) {
	var out []interface{}
	err := h.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getStream", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, errors.Wrapf(err, "getStream %d", id)
	}

	deposit := out[2].(*big.Int)
	start := out[4].(*big.Int)
	stop := out[5].(*big.Int)
	remaining := out[6].(*big.Int)

	// the hub reduces remainingBalance only on withdrawals
	withdrawn := new(big.Int).Sub(deposit, remaining)

	return &core.Disbursement{
		Deposited: deposit,
		Withdrawn: withdrawn,
		StartTime: time.Unix(start.Int64(), 0),
		StopTime:  time.Unix(stop.Int64(), 0),
	}, nil
}

func (h *StreamHub) CancelDisbursement(ctx context.Context, id uint64) (*big.Int, *big.Int, error) {
	streamID := new(big.Int).SetUint64(id)

	// Snapshot the split before cancelling: the hub only reports it
	// through its event log, and the engine reconciles against the
	// custody balance afterwards anyway.
	var out []interface{}
	if err := h.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", streamID, h.opts.From); err != nil {
		return nil, nil, errors.Wrapf(err, "sender balance of stream %d", id)
	}
	returned, ok := out[0].(*big.Int)
	if !ok {
		return nil, nil, errors.Errorf("unexpected balanceOf result %T", out[0])
	}
	stream, err := h.GetDisbursement(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	tx, err := h.contract.Transact(withContext(h.opts, ctx), "cancelStream", streamID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cancelStream %d", id)
	}
	if _, err := waitSuccess(ctx, h.backend, tx); err != nil {
		return nil, nil, err
	}

	// kept = everything the recipient already withdrew plus the vested
	// remainder the cancel pays out to them
	kept := new(big.Int).Sub(stream.Deposited, returned)
	return returned, kept, nil
}
