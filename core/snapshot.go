package core

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const snapshotKey = "campaign"

type donorSnapshot struct {
	Amount string `json:"amount"`
	Voted  bool   `json:"voted"`
}

type allocationSnapshot struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	ShareBps  uint32 `json:"share_bps"`
	StreamID  uint64 `json:"stream_id"`
	Paid      bool   `json:"paid,omitempty"`
}

type eventSnapshot struct {
	Type     uint8  `json:"type"`
	Actor    string `json:"actor"`
	Amount   string `json:"amount,omitempty"`
	StreamID uint64 `json:"stream_id,omitempty"`
	Time     int64  `json:"time"`
}

type campaignSnapshot struct {
	State             uint8                    `json:"state"`
	FeePaid           bool                     `json:"fee_paid,omitempty"`
	TotalRaised       string                   `json:"total_raised"`
	TotalVotingWeight uint64                   `json:"total_voting_weight"`
	Roster            []string                 `json:"roster"`
	Donors            map[string]donorSnapshot `json:"donors"`
	Allocations       []allocationSnapshot     `json:"allocations"`
	Events            []eventSnapshot          `json:"events"`
}

// persist checkpoints the engine state so a restarted daemon resumes the
// campaign where it left off. Callers hold c.mu.
func (c *Campaign) persist() {
	if c.db == nil {
		return
	}

	snap := campaignSnapshot{
		State:             uint8(c.state),
		FeePaid:           c.feePaid,
		TotalRaised:       c.totalRaised.String(),
		TotalVotingWeight: c.totalVotingWeight,
		Donors:            make(map[string]donorSnapshot, len(c.donors)),
	}
	for _, addr := range c.roster {
		snap.Roster = append(snap.Roster, addr.Hex())
	}
	for addr, d := range c.donors {
		snap.Donors[addr.Hex()] = donorSnapshot{Amount: d.Amount.String(), Voted: d.Voted}
	}
	for _, a := range c.allocations {
		snap.Allocations = append(snap.Allocations, allocationSnapshot{
			ID:        a.ID,
			Recipient: a.Recipient.Hex(),
			ShareBps:  a.ShareBps,
			StreamID:  a.StreamID,
			Paid:      a.Paid,
		})
	}
	for _, e := range c.events {
		es := eventSnapshot{
			Type:     uint8(e.Type),
			Actor:    e.Actor.Hex(),
			StreamID: e.StreamID,
			Time:     e.Time.UnixNano(),
		}
		if e.Amount != nil {
			es.Amount = e.Amount.String()
		}
		snap.Events = append(snap.Events, es)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Errorf("marshal campaign snapshot: %s", err)
		return
	}
	c.db.Put([]byte(snapshotKey), data)
}

// LoadCampaign restores a checkpointed campaign from deps.DB. The second
// return is false when no snapshot exists and a fresh campaign should be
// constructed instead.
func LoadCampaign(cfg Config, deps Deps) (*Campaign, bool, error) {
	if deps.DB == nil {
		return nil, false, nil
	}
	data := deps.DB.Get([]byte(snapshotKey))
	if data == nil {
		return nil, false, nil
	}

	var snap campaignSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, errors.Wrap(err, "unmarshal campaign snapshot")
	}

	if deps.Logger == nil {
		deps.Logger = log.New()
	}

	totalRaised, ok := new(big.Int).SetString(snap.TotalRaised, 10)
	if !ok {
		return nil, false, errors.Errorf("corrupt total raised %q", snap.TotalRaised)
	}

	c := &Campaign{
		cfg:               cfg.withDefaults(),
		ledger:            deps.Ledger,
		directory:         deps.Directory,
		streams:           deps.Streams,
		logger:            deps.Logger,
		db:                deps.DB,
		state:             State(snap.State),
		feePaid:           snap.FeePaid,
		donors:            make(map[common.Address]*Donor, len(snap.Donors)),
		totalRaised:       totalRaised,
		totalVotingWeight: snap.TotalVotingWeight,
	}
	for _, hex := range snap.Roster {
		c.roster = append(c.roster, common.HexToAddress(hex))
	}
	for hex, d := range snap.Donors {
		amount, ok := new(big.Int).SetString(d.Amount, 10)
		if !ok {
			return nil, false, errors.Errorf("corrupt donor amount %q", d.Amount)
		}
		c.donors[common.HexToAddress(hex)] = &Donor{Amount: amount, Voted: d.Voted}
	}
	for _, a := range snap.Allocations {
		c.allocations = append(c.allocations, Allocation{
			ID:        a.ID,
			Recipient: common.HexToAddress(a.Recipient),
			ShareBps:  a.ShareBps,
			StreamID:  a.StreamID,
			Paid:      a.Paid,
		})
	}
	for _, e := range snap.Events {
		ev := Event{
			Type:     EventType(e.Type),
			Actor:    common.HexToAddress(e.Actor),
			StreamID: e.StreamID,
			Time:     time.Unix(0, e.Time),
		}
		if e.Amount != "" {
			amount, ok := new(big.Int).SetString(e.Amount, 10)
			if !ok {
				return nil, false, errors.Errorf("corrupt event amount %q", e.Amount)
			}
			ev.Amount = amount
		}
		c.events = append(c.events, ev)
	}

	c.logger.Infof("resumed campaign: state=%s raised=%s donors=%d", c.state, c.totalRaised, len(c.donors))
	return c, true, nil
}
