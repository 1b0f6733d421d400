package core

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type State uint8

const (
	// Open accepts donations; no funds have left custody yet
	Open State = iota

	// Distributing is the transient phase inside Close while the fee and
	// payouts are being executed
	Distributing

	// Active means the close succeeded; the immediate strategy holds the
	// reserve, the streaming strategy has open disbursements
	Active

	// Cancelled is terminal; reached only through the donor vote threshold
	Cancelled
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Distributing:
		return "distributing"
	case Active:
		return "active"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Strategy uint8

const (
	// Immediate pays the initial fraction at close and keeps the rest in
	// custody as a refundable reserve
	Immediate Strategy = iota

	// Streaming opens one time-released disbursement per recipient for
	// the full post-fee amount
	Streaming
)

func (s Strategy) String() string {
	if s == Streaming {
		return "streaming"
	}
	return "immediate"
}

// Allocation binds a recipient, its share and its stream handle into one
// record so the three can never drift apart.
type Allocation struct {
	ID        string
	Recipient common.Address
	ShareBps  uint32

	// StreamID is 0 until the streaming strategy opens a disbursement
	StreamID uint64

	// Paid marks an immediate payout that already settled, so a close
	// retried after an abort never pays the recipient twice
	Paid bool
}

type Donor struct {
	Amount *big.Int
	Voted  bool
}

// Disbursement is the streaming hub's report for one open stream.
type Disbursement struct {
	Deposited *big.Int
	Withdrawn *big.Int
	StartTime time.Time
	StopTime  time.Time
}

type EventType uint8

const (
	DonationReceived EventType = iota
	DistributionStarted
	StreamStarted
	VoteCast
	CampaignCancelled
	RefundIssued
	StreamCancelFailed
	RefundFailed
	ForeignAssetRescued
)

func (e EventType) String() string {
	switch e {
	case DonationReceived:
		return "DonationReceived"
	case DistributionStarted:
		return "DistributionStarted"
	case StreamStarted:
		return "StreamStarted"
	case VoteCast:
		return "VoteCast"
	case CampaignCancelled:
		return "Cancelled"
	case RefundIssued:
		return "RefundIssued"
	case StreamCancelFailed:
		return "StreamCancelFailed"
	case RefundFailed:
		return "RefundFailed"
	case ForeignAssetRescued:
		return "ForeignAssetRescued"
	default:
		return "unknown"
	}
}

// Event is one audit record; every state change appends exactly one.
type Event struct {
	Type     EventType
	Actor    common.Address
	Amount   *big.Int
	StreamID uint64
	Time     time.Time
}
