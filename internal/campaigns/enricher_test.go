package campaigns

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crowdfunding/internal/chain"
	"crowdfunding/internal/chain/chaintest"
	"crowdfunding/internal/custody"
	"crowdfunding/internal/db/dbtest"
	"crowdfunding/internal/domain"
	"crowdfunding/internal/settlement"
	"crowdfunding/internal/store"
)

const (
	addrLive  = "0x00000000000000000000000000000000000000d1"
	addrEnded = "0x00000000000000000000000000000000000000d2"
	addrDown  = "0x00000000000000000000000000000000000000d3"
)

func seed(t *testing.T, db *gorm.DB, creatorID, address, target string, deadline time.Time) domain.Campaign {
	t.Helper()
	c := domain.Campaign{Title: "T" + address[len(address)-2:], Target: target, Deadline: deadline.UTC(),
		ContractAddress: address, CreatorID: creatorID, IsActive: true}
	require.NoError(t, store.CreateCampaign(context.Background(), db, &c))
	return c
}

func TestEnrichAll(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	vault, err := custody.NewVault("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	w, err := vault.GenerateWallet()
	require.NoError(t, err)
	creator := &domain.User{ID: "creator", Email: "c@example.com", Name: "Casey", Role: domain.RoleCreator,
		WalletAddress: w.Address, PrivateKey: w.EncryptedKey}
	require.NoError(t, db.Create(creator).Error)
	require.NoError(t, db.Create(&domain.User{ID: "backer", Email: "b@example.com", Role: domain.RoleUser}).Error)

	live := seed(t, db, "creator", addrLive, "2", time.Now().Add(time.Hour))
	ended := seed(t, db, "creator", addrEnded, "1", time.Now().Add(-time.Hour))
	down := seed(t, db, "creator", addrDown, "4", time.Now().Add(2*time.Hour))
	for _, amt := range []string{"0.5", "0.5"} {
		require.NoError(t, store.CreateContribution(ctx, db, &domain.Contribution{Amount: amt, CampaignID: down.ID, UserID: "backer"}))
	}

	client := &chaintest.Client{}
	defer client.AssertExpectations(t)
	client.On("CampaignData", mock.Anything, addrLive).Return(chaintest.Snapshot(addrLive, w.Address, "2", "0.5", time.Hour, false), nil)
	client.On("CampaignData", mock.Anything, addrEnded).Return(chaintest.Snapshot(addrEnded, w.Address, "1", "1.2", -time.Hour, false), nil)
	client.On("CampaignData", mock.Anything, addrDown).Return(nil, chain.ErrUnavailable)
	client.On("Withdraw", mock.Anything, mock.Anything, addrEnded).Return(&chain.TxResult{TxHash: "0xend"}, nil).Once()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	settler := settlement.NewProcessor(db, rdb, client, vault)
	e := NewEnricher(db, rdb, client, settler)

	all, err := store.CampaignsByCreator(ctx, db, "creator")
	require.NoError(t, err)
	views := e.EnrichAll(ctx, all)
	require.Len(t, views, 3)

	byAddr := map[string]View{}
	for _, v := range views {
		byAddr[v.Address] = v
	}

	lv := byAddr[live.ContractAddress]
	assert.Equal(t, StatusActive, lv.Status)
	assert.Equal(t, 25.0, lv.Progress)
	assert.Equal(t, "0.5", lv.TotalRaised)
	assert.Equal(t, "Casey", lv.CreatorName)
	assert.NotNil(t, lv.Blockchain)

	ev := byAddr[ended.ContractAddress]
	assert.Equal(t, StatusInactive, ev.Status)
	assert.True(t, ev.IsSuccessful)
	assert.True(t, ev.Withdrawn)
	assert.True(t, ev.WithdrawalProcessed)
	assert.Equal(t, 120.0, ev.Progress)

	dv := byAddr[down.ContractAddress]
	assert.Nil(t, dv.Blockchain)
	assert.NotEmpty(t, dv.BlockchainError)
	assert.Equal(t, StatusActive, dv.Status)
	assert.Equal(t, "1", dv.TotalRaised)
	assert.EqualValues(t, 2, dv.ContributionCount)
	assert.Equal(t, 25.0, dv.Progress)
	assert.Greater(t, dv.TimeRemaining, int64(3600))
}

func TestSnapshotIsCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &chaintest.Client{}
	client.On("CampaignData", mock.Anything, addrLive).Return(chaintest.Snapshot(addrLive, "0xc", "1", "0.1", time.Hour, false), nil).Once()

	e := NewEnricher(nil, rdb, client, nil)
	first, err := e.Snapshot(context.Background(), addrLive)
	require.NoError(t, err)
	second, err := e.Snapshot(context.Background(), addrLive)
	require.NoError(t, err)

	assert.Equal(t, first.Goal, second.Goal)
	assert.Equal(t, first.Deadline, second.Deadline)
	assert.True(t, second.IsActive)
	client.AssertExpectations(t)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0.0, progress(chain.EtherDecimal(nil), chain.EtherDecimal(nil)))
	assert.Equal(t, 33.33, progress(chain.EtherDecimal(chaintest.Ether("1")), chain.EtherDecimal(chaintest.Ether("3"))))
}
