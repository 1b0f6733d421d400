package core

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	BpsDenominator = 10000

	DefaultFeeBps           = 100
	DefaultInitialPayoutBps = 7000
	DefaultVoteThresholdBps = 5000
	DefaultStreamDuration   = 30 * 24 * time.Hour
)

// RecipientShare names a recipient by its directory id together with its
// slice of the pool.
type RecipientShare struct {
	ID       string
	ShareBps uint32
}

type Config struct {
	Owner          common.Address
	PlatformWallet common.Address
	DonationToken  common.Address

	// Custody is the account the engine holds pool funds in; the token
	// ledger implementation signs for it.
	Custody common.Address

	Strategy         Strategy
	FeeBps           uint32
	InitialPayoutBps uint32
	VoteThresholdBps uint32
	StreamDuration   time.Duration
	Recipients       []RecipientShare
}

// withDefaults fills the percentage knobs that were left zero; the
// platform fee is always charged, so a zero FeeBps means "use the
// default", not "no fee".
func (c Config) withDefaults() Config {
	if c.FeeBps == 0 {
		c.FeeBps = DefaultFeeBps
	}
	if c.InitialPayoutBps == 0 {
		c.InitialPayoutBps = DefaultInitialPayoutBps
	}
	if c.VoteThresholdBps == 0 {
		c.VoteThresholdBps = DefaultVoteThresholdBps
	}
	if c.StreamDuration == 0 {
		c.StreamDuration = DefaultStreamDuration
	}
	return c
}

// Deps are the external collaborators a campaign talks to. Logger and DB
// are optional; a nil DB disables checkpointing.
type Deps struct {
	Ledger    TokenLedger
	Directory RecipientDirectory
	Streams   StreamHub
	Logger    *logrus.Logger
	DB        storage.Storage
}

// Campaign is the custodial fund-distribution engine. Every public
// operation runs to completion under one mutex; no two operations on the
// same campaign ever interleave.
type Campaign struct {
	mu sync.Mutex

	cfg       Config
	ledger    TokenLedger
	directory RecipientDirectory
	streams   StreamHub
	logger    *logrus.Logger
	db        storage.Storage

	state             State
	feePaid           bool
	allocations       []Allocation
	donors            map[common.Address]*Donor
	roster            []common.Address
	totalRaised       *big.Int
	totalVotingWeight uint64
	events            []Event
}

// NewCampaign validates the allocation table against the recipient
// directory and returns a campaign in the Open state. A failed validation
// leaves nothing behind.
func NewCampaign(ctx context.Context, cfg Config, deps Deps) (*Campaign, error) {
	cfg = cfg.withDefaults()

	if deps.Logger == nil {
		deps.Logger = log.New()
	}

	if len(cfg.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	var sum uint32
	allocations := make([]Allocation, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		if r.ShareBps == 0 {
			return nil, errors.Wrapf(ErrInvalidShare, "recipient %q", r.ID)
		}
		addr, active, err := deps.Directory.Resolve(ctx, r.ID)
		if err != nil {
			return nil, errors.Wrapf(ErrUnknownRecipient, "recipient %q: %s", r.ID, err)
		}
		if !active {
			return nil, errors.Wrapf(ErrInactiveRecipient, "recipient %q", r.ID)
		}
		sum += r.ShareBps
		allocations = append(allocations, Allocation{
			ID:        r.ID,
			Recipient: addr,
			ShareBps:  r.ShareBps,
		})
	}
	if sum != BpsDenominator {
		return nil, errors.Wrapf(ErrAllocationMismatch, "shares sum to %d", sum)
	}

	c := &Campaign{
		cfg:         cfg,
		ledger:      deps.Ledger,
		directory:   deps.Directory,
		streams:     deps.Streams,
		logger:      deps.Logger,
		db:          deps.DB,
		state:       Open,
		allocations: allocations,
		donors:      make(map[common.Address]*Donor),
		totalRaised: new(big.Int),
	}
	c.persist()
	return c, nil
}

// bpsOf computes amount*bps/10000 with truncating integer division.
func bpsOf(amount *big.Int, bps uint32) *big.Int {
	n := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return n.Div(n, big.NewInt(BpsDenominator))
}

func (c *Campaign) emit(t EventType, actor common.Address, amount *big.Int, streamID uint64) {
	var amt *big.Int
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	c.events = append(c.events, Event{
		Type:     t,
		Actor:    actor,
		Amount:   amt,
		StreamID: streamID,
		Time:     time.Now(),
	})
	c.logger.Infof("event %s: actor=%s amount=%s stream=%d", t, actor.Hex(), amount, streamID)
}

// Donate books a donation. The token movement and the ledger update commit
// together: bookkeeping only happens after the transfer succeeded, and the
// transfer is the last failable step.
func (c *Campaign) Donate(ctx context.Context, donor common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		return errors.Wrapf(ErrInvalidState, "donate requires open, campaign is %s", c.state)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if err := c.ledger.TransferFrom(ctx, c.cfg.DonationToken, donor, c.cfg.Custody, amount); err != nil {
		return errors.Wrapf(ErrTransferFailed, "donation from %s: %s", donor.Hex(), err)
	}

	d, ok := c.donors[donor]
	if !ok {
		d = &Donor{Amount: new(big.Int)}
		c.donors[donor] = d
		c.roster = append(c.roster, donor)
	}
	d.Amount = new(big.Int).Add(d.Amount, amount)
	c.totalRaised = new(big.Int).Add(c.totalRaised, amount)

	c.emit(DonationReceived, donor, amount, 0)
	c.persist()
	return nil
}

// Close takes the campaign out of the Open state exactly once: pays the
// platform fee, then runs the configured disbursement strategy. The work
// is split into a plan phase that performs every validation and a commit
// phase that moves funds; a failed commit step triggers the compensations
// that are still possible (stream cancels) and leaves the campaign Open.
// Transfers that settled before the failure are recorded on the campaign
// (feePaid, Allocation.Paid, Allocation.StreamID), so a retried close
// resumes where the aborted one stopped instead of charging them again.
func (c *Campaign) Close(ctx context.Context, actor common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if actor != c.cfg.Owner {
		return ErrNotOwner
	}
	if c.state != Open {
		return errors.Wrapf(ErrInvalidState, "close requires open, campaign is %s", c.state)
	}
	if c.totalRaised.Sign() == 0 {
		return ErrNoFundsRaised
	}

	fee := bpsOf(c.totalRaised, c.cfg.FeeBps)
	remainder := new(big.Int).Sub(c.totalRaised, fee)

	// plan phase: all validation before any funds move
	if c.cfg.Strategy == Streaming {
		for i := range c.allocations {
			active, err := c.directory.IsActiveWallet(ctx, c.allocations[i].Recipient)
			if err != nil {
				return errors.Wrapf(ErrRecipientNoLongerValid, "recipient %q: %s", c.allocations[i].ID, err)
			}
			if !active {
				return errors.Wrapf(ErrRecipientNoLongerValid, "recipient %q", c.allocations[i].ID)
			}
		}
	}

	c.state = Distributing

	commit := func() error {
		if fee.Sign() > 0 && !c.feePaid {
			if err := c.ledger.Transfer(ctx, c.cfg.DonationToken, c.cfg.PlatformWallet, fee); err != nil {
				return errors.Wrapf(ErrTransferFailed, "platform fee: %s", err)
			}
			c.feePaid = true
		}

		switch c.cfg.Strategy {
		case Immediate:
			distributable := bpsOf(remainder, c.cfg.InitialPayoutBps)
			for i := range c.allocations {
				if c.allocations[i].Paid {
					continue
				}
				payout := bpsOf(distributable, c.allocations[i].ShareBps)
				if payout.Sign() == 0 {
					continue
				}
				if err := c.ledger.Transfer(ctx, c.cfg.DonationToken, c.allocations[i].Recipient, payout); err != nil {
					return errors.Wrapf(ErrTransferFailed, "payout to %q: %s", c.allocations[i].ID, err)
				}
				c.allocations[i].Paid = true
			}
			c.emit(DistributionStarted, actor, distributable, 0)

		case Streaming:
			if err := c.ledger.Approve(ctx, c.cfg.DonationToken, c.streamHubSpender(), remainder); err != nil {
				return errors.Wrapf(ErrTransferFailed, "approve stream deposits: %s", err)
			}
			for i := range c.allocations {
				if c.allocations[i].StreamID != 0 {
					continue
				}
				amount := bpsOf(remainder, c.allocations[i].ShareBps)
				id, err := c.streams.OpenDisbursement(ctx, c.allocations[i].Recipient, amount, c.cfg.DonationToken, c.cfg.StreamDuration)
				if err != nil {
					return errors.Wrapf(ErrTransferFailed, "open stream for %q: %s", c.allocations[i].ID, err)
				}
				c.allocations[i].StreamID = id
				c.emit(StreamStarted, c.allocations[i].Recipient, amount, id)
			}
		}
		return nil
	}

	if err := commit(); err != nil {
		c.compensateClose(ctx)
		c.state = Open
		c.persist()
		return err
	}

	c.state = Active
	c.logger.Infof("campaign closed: strategy=%s raised=%s fee=%s", c.cfg.Strategy, c.totalRaised, fee)
	c.persist()
	return nil
}

// compensateClose undoes whatever a half-finished close can still undo:
// streams already opened are cancelled so their deposits flow back into
// custody. Settled transfers to external wallets cannot be recalled; they
// stay marked on the campaign so the retry skips them, and are logged for
// operator reconciliation.
func (c *Campaign) compensateClose(ctx context.Context) {
	cancelled := make(map[uint64]bool)
	for i := range c.allocations {
		id := c.allocations[i].StreamID
		if id == 0 {
			continue
		}
		if _, _, err := c.streams.CancelDisbursement(ctx, id); err != nil {
			c.logger.Errorf("compensating cancel of stream %d failed: %s", id, err)
			continue
		}
		cancelled[id] = true
		c.allocations[i].StreamID = 0
	}
	// drop the events for streams the compensation actually unwound; a
	// stream that refused to cancel keeps its handle and its event, and
	// the retry leaves it alone
	kept := c.events[:0]
	for _, e := range c.events {
		if e.Type == StreamStarted && cancelled[e.StreamID] {
			continue
		}
		kept = append(kept, e)
	}
	c.events = kept
	c.logger.Errorf("close aborted, campaign returned to open state")
}

// streamHubSpender reports the address the stream hub pulls deposits from
// custody with. The EVM hub adapter exposes its contract address; the mock
// hub carries its own synthetic address.
func (c *Campaign) streamHubSpender() common.Address {
	type addressed interface{ Address() common.Address }
	if a, ok := c.streams.(addressed); ok {
		return a.Address()
	}
	return common.Address{}
}

// Vote casts a donor's irrevocable cancellation vote. Crossing the
// threshold cancels the campaign inside the same call.
func (c *Campaign) Vote(ctx context.Context, donor common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		return errors.Wrapf(ErrInvalidState, "vote requires active, campaign is %s", c.state)
	}
	d, ok := c.donors[donor]
	if !ok || d.Amount.Sign() == 0 {
		return ErrNotADonor
	}
	if d.Voted {
		return ErrAlreadyVoted
	}

	weight := new(big.Int).Mul(d.Amount, big.NewInt(BpsDenominator))
	weight = weight.Div(weight, c.totalRaised)
	w := weight.Uint64()

	d.Voted = true
	c.totalVotingWeight += w
	c.emit(VoteCast, donor, big.NewInt(int64(w)), 0)
	c.logger.Infof("vote from %s: weight=%d accumulated=%d", donor.Hex(), w, c.totalVotingWeight)

	if c.totalVotingWeight >= uint64(c.cfg.VoteThresholdBps) {
		c.cancel(ctx, donor)
	}
	c.persist()
	return nil
}

// cancel halts distribution and refunds donors pro rata. The state flips
// to Cancelled before any transfer so re-entrant votes or a second
// cancellation are impossible. Individual stream-cancel and refund
// failures are per-item boundaries: they are recorded and skipped, never
// allowed to block the remaining refunds.
func (c *Campaign) cancel(ctx context.Context, trigger common.Address) {
	c.state = Cancelled

	if c.cfg.Strategy == Streaming {
		for i := range c.allocations {
			id := c.allocations[i].StreamID
			if id == 0 {
				continue
			}
			if d, err := c.streams.GetDisbursement(ctx, id); err == nil {
				c.logger.Infof("stream %d at cancel: deposited=%s withdrawn=%s", id, d.Deposited, d.Withdrawn)
			}
			returned, kept, err := c.streams.CancelDisbursement(ctx, id)
			if err != nil {
				c.emit(StreamCancelFailed, c.allocations[i].Recipient, nil, id)
				c.logger.Errorf("cancel stream %d for %q failed: %s", id, c.allocations[i].ID, err)
				continue
			}
			c.logger.Infof("stream %d cancelled: returned=%s kept=%s", id, returned, kept)
		}
	}

	// The refund pool is whatever custody holds after the cancel attempts.
	// Reading the post-cancel balance instead of summing per-stream
	// unvested amounts keeps the accounting correct even when the hub
	// takes fees of its own on cancellation.
	pool, err := c.ledger.BalanceOf(ctx, c.cfg.DonationToken, c.cfg.Custody)
	if err != nil {
		c.emit(CampaignCancelled, trigger, nil, 0)
		c.logger.Errorf("refund pool balance query failed: %s", err)
		return
	}

	c.emit(CampaignCancelled, trigger, pool, 0)

	for _, donor := range c.roster {
		d := c.donors[donor]
		refund := new(big.Int).Mul(pool, d.Amount)
		refund = refund.Div(refund, c.totalRaised)
		if refund.Sign() == 0 {
			continue
		}
		if err := c.ledger.Transfer(ctx, c.cfg.DonationToken, donor, refund); err != nil {
			c.emit(RefundFailed, donor, refund, 0)
			c.logger.Errorf("refund to %s failed: %s", donor.Hex(), err)
			continue
		}
		c.emit(RefundIssued, donor, refund, 0)
	}
	c.logger.Infof("campaign cancelled by %s: refund pool=%s", trigger.Hex(), pool)
}

// RescueForeignAsset sweeps the custody balance of any token other than
// the donation token to the owner. The donation token is guarded so the
// rescue path can never drain the pool.
func (c *Campaign) RescueForeignAsset(ctx context.Context, actor, token common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if actor != c.cfg.Owner {
		return ErrNotOwner
	}
	if token == c.cfg.DonationToken {
		return ErrProtectedAsset
	}

	bal, err := c.ledger.BalanceOf(ctx, token, c.cfg.Custody)
	if err != nil {
		return errors.Wrapf(ErrTransferFailed, "balance of %s: %s", token.Hex(), err)
	}
	if bal.Sign() == 0 {
		return nil
	}
	if err := c.ledger.Transfer(ctx, token, c.cfg.Owner, bal); err != nil {
		return errors.Wrapf(ErrTransferFailed, "rescue %s: %s", token.Hex(), err)
	}
	c.emit(ForeignAssetRescued, actor, bal, 0)
	c.persist()
	return nil
}

// Status is a consistent read-only view of the campaign.
type Status struct {
	State             State
	Strategy          Strategy
	TotalRaised       *big.Int
	TotalVotingWeight uint64
	Allocations       []Allocation
}

func (c *Campaign) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	allocs := make([]Allocation, len(c.allocations))
	copy(allocs, c.allocations)
	return Status{
		State:             c.state,
		Strategy:          c.cfg.Strategy,
		TotalRaised:       new(big.Int).Set(c.totalRaised),
		TotalVotingWeight: c.totalVotingWeight,
		Allocations:       allocs,
	}
}

// DonorInfo pairs a roster entry with its ledger record.
type DonorInfo struct {
	Address common.Address
	Amount  *big.Int
	Voted   bool
}

// Donors returns the donation ledger in roster (first-donation) order.
func (c *Campaign) Donors() []DonorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DonorInfo, 0, len(c.roster))
	for _, addr := range c.roster {
		d := c.donors[addr]
		out = append(out, DonorInfo{
			Address: addr,
			Amount:  new(big.Int).Set(d.Amount),
			Voted:   d.Voted,
		})
	}
	return out
}

// Events returns the audit log in emission order.
func (c *Campaign) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
