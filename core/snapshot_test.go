package core

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignResumesFromSnapshot(t *testing.T) {
	ctx := context.Background()
	db, err := leveldb.New(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)

	ledger := NewMockLedger(testCustody)
	directory := NewMockDirectory()
	directory.Register("water-project", wallet1, true)
	directory.Register("school-fund", wallet2, true)
	hub := NewMockStreamHub(ledger, testHub)

	cfg := Config{
		Owner:          testOwner,
		PlatformWallet: testPlatform,
		DonationToken:  testToken,
		Custody:        testCustody,
		Strategy:       Streaming,
		Recipients:     twoEqualRecipients(),
	}
	deps := Deps{Ledger: ledger, Directory: directory, Streams: hub, DB: db}

	// nothing checkpointed yet
	_, resumed, err := LoadCampaign(cfg, deps)
	require.NoError(t, err)
	require.False(t, resumed)

	campaign, err := NewCampaign(ctx, cfg, deps)
	require.NoError(t, err)

	ledger.Mint(testToken, alice, big.NewInt(10000))
	ledger.ApproveFor(testToken, alice, testCustody, big.NewInt(10000))
	require.NoError(t, campaign.Donate(ctx, alice, big.NewInt(10000)))
	require.NoError(t, campaign.Close(ctx, testOwner))

	// a fresh engine against the same db picks up where this one stopped
	restored, resumed, err := LoadCampaign(cfg, deps)
	require.NoError(t, err)
	require.True(t, resumed)

	status := restored.Status()
	assert.Equal(t, Active, status.State)
	assert.Equal(t, "10000", status.TotalRaised.String())
	require.Len(t, status.Allocations, 2)
	for i, a := range status.Allocations {
		assert.Equal(t, campaign.Status().Allocations[i].StreamID, a.StreamID)
		assert.Equal(t, campaign.Status().Allocations[i].Recipient, a.Recipient)
	}

	donors := restored.Donors()
	require.Len(t, donors, 1)
	assert.Equal(t, alice, donors[0].Address)
	assert.False(t, donors[0].Voted)

	assert.Equal(t, len(campaign.Events()), len(restored.Events()))

	// the restored engine keeps working: sole donor cancels everything
	require.NoError(t, restored.Vote(ctx, alice))
	assert.Equal(t, Cancelled, restored.Status().State)
}

func TestAbortedCloseResumesWithoutRechargingFee(t *testing.T) {
	ctx := context.Background()
	db, err := leveldb.New(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)

	ledger := NewMockLedger(testCustody)
	directory := NewMockDirectory()
	directory.Register("water-project", wallet1, true)
	directory.Register("school-fund", wallet2, true)

	cfg := Config{
		Owner:          testOwner,
		PlatformWallet: testPlatform,
		DonationToken:  testToken,
		Custody:        testCustody,
		Recipients:     twoEqualRecipients(),
	}
	deps := Deps{Ledger: ledger, Directory: directory, DB: db}

	campaign, err := NewCampaign(ctx, cfg, deps)
	require.NoError(t, err)

	ledger.Mint(testToken, alice, big.NewInt(58000))
	ledger.ApproveFor(testToken, alice, testCustody, big.NewInt(58000))
	require.NoError(t, campaign.Donate(ctx, alice, big.NewInt(58000)))

	// fee settles, the first payout is rejected, close aborts
	ledger.FailTo[wallet1] = true
	require.Error(t, campaign.Close(ctx, testOwner))

	// a process restart later, the settled fee is still on record
	restored, resumed, err := LoadCampaign(cfg, deps)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, Open, restored.Status().State)

	delete(ledger.FailTo, wallet1)
	require.NoError(t, restored.Close(ctx, testOwner))

	platform, err := ledger.BalanceOf(ctx, testToken, testPlatform)
	require.NoError(t, err)
	assert.Equal(t, int64(580), platform.Int64())

	w1, err := ledger.BalanceOf(ctx, testToken, wallet1)
	require.NoError(t, err)
	w2, err := ledger.BalanceOf(ctx, testToken, wallet2)
	require.NoError(t, err)
	assert.Equal(t, int64(20097), w1.Int64())
	assert.Equal(t, int64(20097), w2.Int64())
}

func TestSnapshotRoundTripsEventAmounts(t *testing.T) {
	ctx := context.Background()
	db, err := leveldb.New(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)

	ledger := NewMockLedger(testCustody)
	directory := NewMockDirectory()
	directory.Register("water-project", wallet1, true)
	directory.Register("school-fund", wallet2, true)

	cfg := Config{
		Owner:          testOwner,
		PlatformWallet: testPlatform,
		DonationToken:  testToken,
		Custody:        testCustody,
		Recipients:     twoEqualRecipients(),
	}
	deps := Deps{Ledger: ledger, Directory: directory, DB: db}

	campaign, err := NewCampaign(ctx, cfg, deps)
	require.NoError(t, err)

	ledger.Mint(testToken, bob, big.NewInt(12345))
	ledger.ApproveFor(testToken, bob, testCustody, big.NewInt(12345))
	require.NoError(t, campaign.Donate(ctx, bob, big.NewInt(12345)))

	restored, resumed, err := LoadCampaign(cfg, deps)
	require.NoError(t, err)
	require.True(t, resumed)

	events := restored.Events()
	require.Len(t, events, 1)
	assert.Equal(t, DonationReceived, events[0].Type)
	assert.Equal(t, bob, events[0].Actor)
	assert.Equal(t, "12345", events[0].Amount.String())
}
