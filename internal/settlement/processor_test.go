package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crowdfunding/internal/chain"
	"crowdfunding/internal/chain/chaintest"
	"crowdfunding/internal/custody"
	"crowdfunding/internal/db/dbtest"
	"crowdfunding/internal/domain"
	"crowdfunding/internal/store"
)

const vaultKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type fixture struct {
	db      *gorm.DB
	chain   *chaintest.Client
	proc    *Processor
	creator *domain.User
}

func newFixture(t *testing.T, rdb *redis.Client) *fixture {
	t.Helper()
	db := dbtest.New(t)
	vault, err := custody.NewVault(vaultKey)
	require.NoError(t, err)
	w, err := vault.GenerateWallet()
	require.NoError(t, err)
	creator := &domain.User{ID: "creator", Email: "creator@example.com", Role: domain.RoleCreator,
		WalletAddress: w.Address, PrivateKey: w.EncryptedKey}
	require.NoError(t, db.Create(creator).Error)

	client := &chaintest.Client{}
	t.Cleanup(func() { client.AssertExpectations(t) })
	return &fixture{db: db, chain: client, proc: NewProcessor(db, rdb, client, vault), creator: creator}
}

func (f *fixture) campaign(t *testing.T, address string, deadline time.Time) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{Title: "Campaign " + address[len(address)-2:], Target: "1", Deadline: deadline.UTC(),
		ContractAddress: address, CreatorID: f.creator.ID, IsActive: true}
	require.NoError(t, store.CreateCampaign(context.Background(), f.db, c))
	return c
}

func (f *fixture) reload(t *testing.T, address string) *domain.Campaign {
	t.Helper()
	c, err := store.CampaignByAddress(context.Background(), f.db, address)
	require.NoError(t, err)
	return c
}

const (
	addrA = "0x00000000000000000000000000000000000000a1"
	addrB = "0x00000000000000000000000000000000000000a2"
	addrC = "0x00000000000000000000000000000000000000a3"
	addrD = "0x00000000000000000000000000000000000000a4"
	addrE = "0x00000000000000000000000000000000000000a5"
)

func TestShouldAutoWithdraw(t *testing.T) {
	ended := chaintest.Snapshot(addrA, "0xc", "1", "2", -time.Hour, false)
	c := &domain.Campaign{}

	assert.True(t, ShouldAutoWithdraw(c, ended))
	assert.False(t, ShouldAutoWithdraw(c, nil))
	assert.False(t, ShouldAutoWithdraw(c, chaintest.Snapshot(addrA, "0xc", "1", "2", time.Hour, false)))
	assert.False(t, ShouldAutoWithdraw(c, chaintest.Snapshot(addrA, "0xc", "3", "2", -time.Hour, false)))
	assert.False(t, ShouldAutoWithdraw(c, chaintest.Snapshot(addrA, "0xc", "1", "2", -time.Hour, true)))
	assert.False(t, ShouldAutoWithdraw(&domain.Campaign{WithdrawalProcessed: true}, ended))
}

func TestMaybeWithdrawRecordsWithdrawal(t *testing.T) {
	f := newFixture(t, nil)
	c := f.campaign(t, addrA, time.Now().Add(-time.Hour))
	data := chaintest.Snapshot(addrA, f.creator.WalletAddress, "1", "1.5", -time.Hour, false)

	f.chain.On("CampaignData", mock.Anything, addrA).Return(data, nil).Once()
	f.chain.On("Withdraw", mock.Anything, mock.Anything, addrA).Return(&chain.TxResult{TxHash: "0xw1", GasUsed: 42000}, nil).Once()

	assert.True(t, f.proc.MaybeWithdraw(context.Background(), c, data))
	assert.True(t, c.WithdrawalProcessed)

	got := f.reload(t, addrA)
	assert.True(t, got.WithdrawalProcessed)
	require.NotNil(t, got.WithdrawalTxHash)
	assert.Equal(t, "0xw1", *got.WithdrawalTxHash)

	// a second trigger sees the processed flag and does nothing
	assert.False(t, f.proc.MaybeWithdraw(context.Background(), got, data))
}

func TestMaybeWithdrawKeepsEarlierRecord(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	f := newFixture(t, nil)
	c := f.campaign(t, addrA, time.Now().Add(-time.Hour))
	flipped, err := store.MarkWithdrawalProcessed(context.Background(), f.db, c.ID, "0xfirst")
	require.NoError(t, err)
	require.True(t, flipped)

	// c is a stale copy that still reads as unprocessed
	data := chaintest.Snapshot(addrA, f.creator.WalletAddress, "1", "1.5", -time.Hour, false)
	f.chain.On("CampaignData", mock.Anything, addrA).Return(data, nil).Once()
	f.chain.On("Withdraw", mock.Anything, mock.Anything, addrA).Return(&chain.TxResult{TxHash: "0xsecond"}, nil).Once()

	assert.True(t, f.proc.MaybeWithdraw(context.Background(), c, data))

	got := f.reload(t, addrA)
	require.NotNil(t, got.WithdrawalTxHash)
	assert.Equal(t, "0xfirst", *got.WithdrawalTxHash)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["tx_hash"] == "0xsecond" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestMaybeWithdrawSkipsWhileLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newFixture(t, rdb)
	c := f.campaign(t, addrA, time.Now().Add(-time.Hour))
	data := chaintest.Snapshot(addrA, f.creator.WalletAddress, "1", "1.5", -time.Hour, false)

	require.NoError(t, mr.Set("settlement:lock:"+addrA, "someone-else"))

	assert.False(t, f.proc.MaybeWithdraw(context.Background(), c, data))
	assert.False(t, f.reload(t, addrA).WithdrawalProcessed)
}

func TestWithdrawCampaignFundsChecks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.chain.On("CampaignData", mock.Anything, addrA).Return(chaintest.Snapshot(addrA, "0x00000000000000000000000000000000000000ff", "1", "2", -time.Hour, false), nil).Once()
	_, err := f.proc.WithdrawCampaignFunds(ctx, addrA, f.creator.ID)
	assert.ErrorIs(t, err, ErrNotCreator)

	f.chain.On("CampaignData", mock.Anything, addrB).Return(chaintest.Snapshot(addrB, f.creator.WalletAddress, "3", "2", -time.Hour, false), nil).Once()
	_, err = f.proc.WithdrawCampaignFunds(ctx, addrB, f.creator.ID)
	assert.ErrorIs(t, err, ErrGoalNotReached)

	f.chain.On("CampaignData", mock.Anything, addrC).Return(chaintest.Snapshot(addrC, f.creator.WalletAddress, "1", "2", time.Hour, false), nil).Once()
	_, err = f.proc.WithdrawCampaignFunds(ctx, addrC, f.creator.ID)
	assert.ErrorIs(t, err, ErrStillActive)

	f.chain.On("CampaignData", mock.Anything, addrD).Return(chaintest.Snapshot(addrD, f.creator.WalletAddress, "1", "2", -time.Hour, true), nil).Once()
	w, err := f.proc.WithdrawCampaignFunds(ctx, addrD, f.creator.ID)
	require.NoError(t, err)
	assert.True(t, w.AlreadyWithdrawn)
	assert.Equal(t, "2", w.Amount)

	_, err = f.proc.WithdrawCampaignFunds(ctx, addrE, "unknown-user")
	assert.ErrorIs(t, err, ErrCreatorWallet)
}

func TestProcessExpired(t *testing.T) {
	f := newFixture(t, nil)
	past := time.Now().Add(-time.Hour)
	f.campaign(t, addrA, past.Add(-4*time.Hour)) // withdrawn now
	f.campaign(t, addrB, past.Add(-3*time.Hour)) // goal not reached
	f.campaign(t, addrC, past.Add(-2*time.Hour)) // already withdrawn
	f.campaign(t, addrD, past.Add(-1*time.Hour)) // chain unreadable
	f.campaign(t, addrE, past)                   // withdraw reverts
	f.campaign(t, "0x00000000000000000000000000000000000000b1", time.Now().Add(time.Hour))

	owner := f.creator.WalletAddress
	f.chain.On("CampaignData", mock.Anything, addrA).Return(chaintest.Snapshot(addrA, owner, "1", "1", -time.Hour, false), nil)
	f.chain.On("CampaignData", mock.Anything, addrB).Return(chaintest.Snapshot(addrB, owner, "1", "0.4", -time.Hour, false), nil)
	f.chain.On("CampaignData", mock.Anything, addrC).Return(chaintest.Snapshot(addrC, owner, "1", "1", -time.Hour, true), nil)
	f.chain.On("CampaignData", mock.Anything, addrD).Return(nil, chain.ErrUnavailable)
	f.chain.On("CampaignData", mock.Anything, addrE).Return(chaintest.Snapshot(addrE, owner, "1", "2", -time.Hour, false), nil)
	f.chain.On("Withdraw", mock.Anything, mock.Anything, addrA).Return(&chain.TxResult{TxHash: "0xaa"}, nil).Once()
	f.chain.On("Withdraw", mock.Anything, mock.Anything, addrE).Return(nil, errors.New("execution reverted"))

	report, err := f.proc.ProcessExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Processed)
	require.Len(t, report.Results, 4)

	byAddress := map[string]Outcome{}
	for _, r := range report.Results {
		byAddress[r.Address] = r
	}
	assert.Equal(t, StatusWithdrawn, byAddress[addrA].Status)
	assert.Equal(t, "0xaa", byAddress[addrA].TxHash)
	assert.Equal(t, StatusGoalNotReached, byAddress[addrB].Status)
	assert.Equal(t, "0.4", byAddress[addrB].TotalRaised)
	assert.Equal(t, StatusAlreadyWithdrawn, byAddress[addrC].Status)
	assert.Equal(t, StatusWithdrawalFailed, byAddress[addrE].Status)
	assert.Contains(t, byAddress[addrE].Error, "reverted")

	// results follow deadline order
	assert.Equal(t, addrA, report.Results[0].Address)

	assert.True(t, f.reload(t, addrA).WithdrawalProcessed)
	assert.True(t, f.reload(t, addrB).WithdrawalProcessed)
	assert.True(t, f.reload(t, addrC).WithdrawalProcessed)
	assert.False(t, f.reload(t, addrD).WithdrawalProcessed)
	assert.False(t, f.reload(t, addrE).WithdrawalProcessed)

	// the next run only revisits what is still pending
	again, err := f.proc.ProcessExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Processed)
}

func TestProcessExpiredReportsActiveAndFailedRecords(t *testing.T) {
	f := newFixture(t, nil)
	past := time.Now().Add(-time.Hour)
	f.campaign(t, addrA, past.Add(-time.Hour)) // extended on chain
	f.campaign(t, addrB, past)                 // goal not reached, record fails

	owner := f.creator.WalletAddress
	f.chain.On("CampaignData", mock.Anything, addrA).Return(chaintest.Snapshot(addrA, owner, "1", "0.2", 2*time.Hour, false), nil)
	f.chain.On("CampaignData", mock.Anything, addrB).Return(chaintest.Snapshot(addrB, owner, "1", "0.4", -time.Hour, false), nil)

	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_update", func(tx *gorm.DB) {
		_ = tx.AddError(errors.New("disk I/O error"))
	}))

	report, err := f.proc.ProcessExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	require.Len(t, report.Results, 2)

	byAddress := map[string]Outcome{}
	for _, r := range report.Results {
		byAddress[r.Address] = r
	}
	assert.Equal(t, StatusNotExpired, byAddress[addrA].Status)
	assert.Positive(t, byAddress[addrA].TimeRemaining)
	assert.Equal(t, StatusProcessingError, byAddress[addrB].Status)
	assert.Contains(t, byAddress[addrB].Error, "disk I/O error")

	require.NoError(t, f.db.Callback().Update().Remove("test:fail_update"))
	assert.False(t, f.reload(t, addrA).WithdrawalProcessed)
	assert.False(t, f.reload(t, addrB).WithdrawalProcessed)
}
