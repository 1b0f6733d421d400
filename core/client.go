package core

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// TokenLedger moves the donation token. Transfer and Approve act on behalf
// of the custody account the implementation was constructed for.
type TokenLedger interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error

	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error

	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error

	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// RecipientDirectory resolves symbolic recipient ids to verified wallets.
type RecipientDirectory interface {
	// Resolve returns the payout address and active flag, or an error if
	// the id is unknown.
	Resolve(ctx context.Context, id string) (common.Address, bool, error)

	IsActiveWallet(ctx context.Context, addr common.Address) (bool, error)
}

// StreamHub opens and cancels time-released disbursements.
type StreamHub interface {
	OpenDisbursement(ctx context.Context, recipient common.Address, amount *big.Int, token common.Address, duration time.Duration) (uint64, error)

	GetDisbursement(ctx context.Context, id uint64) (*Disbursement, error)

	// CancelDisbursement returns (returnedToSender, keptByRecipient).
	CancelDisbursement(ctx context.Context, id uint64) (*big.Int, *big.Int, error)
}

var _ TokenLedger = (*MockLedger)(nil)

// MockLedger is an in-memory fungible-asset ledger with ERC-20 transfer
// semantics. It backs tests and the daemon's mock backend mode.
type MockLedger struct {
	mu        sync.Mutex
	custody   common.Address
	balances  map[common.Address]map[common.Address]*big.Int
	allowance map[string]*big.Int

	// FailTo rejects any movement toward the listed addresses
	FailTo map[common.Address]bool

	// Faucet credits unfunded senders on demand; mock-backend daemon
	// mode only, never tests
	Faucet bool
}

func NewMockLedger(custody common.Address) *MockLedger {
	return &MockLedger{
		custody:   custody,
		balances:  make(map[common.Address]map[common.Address]*big.Int),
		allowance: make(map[string]*big.Int),
		FailTo:    make(map[common.Address]bool),
	}
}

func allowanceKey(token, owner, spender common.Address) string {
	return fmt.Sprintf("%s|%s|%s", token.Hex(), owner.Hex(), spender.Hex())
}

// Mint credits a holder out of thin air. Test and mock-backend setup only.
func (ml *MockLedger) Mint(token, holder common.Address, amount *big.Int) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.credit(token, holder, amount)
}

// ApproveFor records an allowance on behalf of an arbitrary owner, the way
// a donor would approve the custody account before donating.
func (ml *MockLedger) ApproveFor(token, owner, spender common.Address, amount *big.Int) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.allowance[allowanceKey(token, owner, spender)] = new(big.Int).Set(amount)
}

func (ml *MockLedger) credit(token, holder common.Address, amount *big.Int) {
	if ml.balances[token] == nil {
		ml.balances[token] = make(map[common.Address]*big.Int)
	}
	cur := ml.balances[token][holder]
	if cur == nil {
		cur = new(big.Int)
	}
	ml.balances[token][holder] = new(big.Int).Add(cur, amount)
}

func (ml *MockLedger) move(token, from, to common.Address, amount *big.Int) error {
	if ml.FailTo[to] {
		return errors.Errorf("transfer to %s rejected", to.Hex())
	}
	cur := new(big.Int)
	if ml.balances[token] != nil && ml.balances[token][from] != nil {
		cur = ml.balances[token][from]
	}
	if cur.Cmp(amount) < 0 {
		return errors.Errorf("insufficient balance: %s holds %s, needs %s", from.Hex(), cur, amount)
	}
	ml.balances[token][from] = new(big.Int).Sub(cur, amount)
	ml.credit(token, to, amount)
	return nil
}

func (ml *MockLedger) spendAllowance(token, owner, spender common.Address, amount *big.Int) error {
	key := allowanceKey(token, owner, spender)
	cur := ml.allowance[key]
	if cur == nil || cur.Cmp(amount) < 0 {
		return errors.Errorf("allowance exceeded: owner %s spender %s", owner.Hex(), spender.Hex())
	}
	ml.allowance[key] = new(big.Int).Sub(cur, amount)
	return nil
}

func (ml *MockLedger) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.Faucet && from != ml.custody {
		ml.credit(token, from, amount)
		ml.allowance[allowanceKey(token, from, ml.custody)] = new(big.Int).Set(amount)
	}
	if from != ml.custody {
		if err := ml.spendAllowance(token, from, ml.custody, amount); err != nil {
			return err
		}
	}
	return ml.move(token, from, to, amount)
}

func (ml *MockLedger) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.move(token, ml.custody, to, amount)
}

func (ml *MockLedger) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.allowance[allowanceKey(token, ml.custody, spender)] = new(big.Int).Set(amount)
	return nil
}

func (ml *MockLedger) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.balances[token] == nil || ml.balances[token][owner] == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(ml.balances[token][owner]), nil
}

var _ RecipientDirectory = (*MockDirectory)(nil)

// MockDirectory is an in-memory recipient registry.
type MockDirectory struct {
	mu      sync.Mutex
	entries map[string]directoryEntry
	wallets map[common.Address]bool
}

type directoryEntry struct {
	addr   common.Address
	active bool
}

func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		entries: make(map[string]directoryEntry),
		wallets: make(map[common.Address]bool),
	}
}

func (md *MockDirectory) Register(id string, addr common.Address, active bool) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.entries[id] = directoryEntry{addr: addr, active: active}
	md.wallets[addr] = active
}

// Deactivate flips a wallet inactive, simulating deactivation between
// campaign construction and close.
func (md *MockDirectory) Deactivate(addr common.Address) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.wallets[addr] = false
	for id, e := range md.entries {
		if e.addr == addr {
			md.entries[id] = directoryEntry{addr: addr, active: false}
		}
	}
}

func (md *MockDirectory) Resolve(ctx context.Context, id string) (common.Address, bool, error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	e, ok := md.entries[id]
	if !ok {
		return common.Address{}, false, errors.Errorf("recipient %q not found", id)
	}
	return e.addr, e.active, nil
}

func (md *MockDirectory) IsActiveWallet(ctx context.Context, addr common.Address) (bool, error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.wallets[addr], nil
}

var _ StreamHub = (*MockStreamHub)(nil)

// MockStreamHub simulates the external streaming service against a
// MockLedger: opening a stream pulls the deposit out of custody, cancelling
// returns whatever has not been withdrawn.
type MockStreamHub struct {
	mu      sync.Mutex
	ledger  *MockLedger
	addr    common.Address
	nextID  uint64
	streams map[uint64]*mockStream

	// FailCancel rejects CancelDisbursement for the listed stream ids
	FailCancel map[uint64]bool
}

type mockStream struct {
	recipient common.Address
	token     common.Address
	deposited *big.Int
	withdrawn *big.Int
	start     time.Time
	stop      time.Time
	cancelled bool
}

func NewMockStreamHub(ledger *MockLedger, addr common.Address) *MockStreamHub {
	return &MockStreamHub{
		ledger:     ledger,
		addr:       addr,
		streams:    make(map[uint64]*mockStream),
		FailCancel: make(map[uint64]bool),
	}
}

// Address is the account streams deposit into; custody approves it as the
// spender before opening disbursements.
func (mh *MockStreamHub) Address() common.Address {
	return mh.addr
}

func (mh *MockStreamHub) OpenDisbursement(ctx context.Context, recipient common.Address, amount *big.Int, token common.Address, duration time.Duration) (uint64, error) {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	mh.ledger.mu.Lock()
	err := mh.ledger.spendAllowance(token, mh.ledger.custody, mh.addr, amount)
	if err == nil {
		err = mh.ledger.move(token, mh.ledger.custody, mh.addr, amount)
	}
	mh.ledger.mu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "deposit stream funds")
	}

	mh.nextID++
	now := time.Now()
	mh.streams[mh.nextID] = &mockStream{
		recipient: recipient,
		token:     token,
		deposited: new(big.Int).Set(amount),
		withdrawn: new(big.Int),
		start:     now,
		stop:      now.Add(duration),
	}
	return mh.nextID, nil
}

// Withdraw simulates the recipient pulling vested funds out of a stream.
func (mh *MockStreamHub) Withdraw(id uint64, amount *big.Int) error {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	s, ok := mh.streams[id]
	if !ok || s.cancelled {
		return errors.Errorf("stream %d not open", id)
	}
	remaining := new(big.Int).Sub(s.deposited, s.withdrawn)
	if remaining.Cmp(amount) < 0 {
		return errors.Errorf("stream %d holds %s, cannot withdraw %s", id, remaining, amount)
	}
	mh.ledger.mu.Lock()
	err := mh.ledger.move(s.token, mh.addr, s.recipient, amount)
	mh.ledger.mu.Unlock()
	if err != nil {
		return err
	}
	s.withdrawn = new(big.Int).Add(s.withdrawn, amount)
	return nil
}

func (mh *MockStreamHub) GetDisbursement(ctx context.Context, id uint64) (*Disbursement, error) {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	s, ok := mh.streams[id]
	if !ok {
		return nil, errors.Errorf("stream %d not found", id)
	}
	return &Disbursement{
		Deposited: new(big.Int).Set(s.deposited),
		Withdrawn: new(big.Int).Set(s.withdrawn),
		StartTime: s.start,
		StopTime:  s.stop,
	}, nil
}

func (mh *MockStreamHub) CancelDisbursement(ctx context.Context, id uint64) (*big.Int, *big.Int, error) {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	if mh.FailCancel[id] {
		return nil, nil, errors.Errorf("stream %d cancel rejected", id)
	}
	s, ok := mh.streams[id]
	if !ok || s.cancelled {
		return nil, nil, errors.Errorf("stream %d not open", id)
	}
	returned := new(big.Int).Sub(s.deposited, s.withdrawn)
	mh.ledger.mu.Lock()
	err := mh.ledger.move(s.token, mh.addr, mh.ledger.custody, returned)
	mh.ledger.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	s.cancelled = true
	return returned, new(big.Int).Set(s.withdrawn), nil
}
