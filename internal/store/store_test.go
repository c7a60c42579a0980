package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crowdfunding/internal/db/dbtest"
	"crowdfunding/internal/domain"
)

func strPtr(s string) *string { return &s }

func seedUser(t *testing.T, db *gorm.DB, id, email string) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, IdentityID: strPtr(id), Email: email, Name: "User " + id, Role: domain.RoleCreator}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedCampaign(t *testing.T, db *gorm.DB, creatorID, address string, deadline time.Time) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		Title:           "Campaign " + address[len(address)-4:],
		Target:          "1.5",
		Deadline:        deadline.UTC(),
		ContractAddress: address,
		CreatorID:       creatorID,
		IsActive:        true,
	}
	require.NoError(t, CreateCampaign(context.Background(), db, c))
	return c
}

func TestFindUserByIdentityFallsBackToEmail(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	seedUser(t, db, "uid-1", "alice@example.com")

	u, err := FindUserByIdentity(ctx, db, "uid-1", "")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)

	u, err = FindUserByIdentity(ctx, db, "rotated-uid", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", u.ID)

	_, err = FindUserByIdentity(ctx, db, "nobody", "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertUserUpdatesOnEmailConflict(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	created, err := UpsertUser(ctx, db, &domain.User{ID: "uid-1", IdentityID: strPtr("uid-1"), Email: "bob@example.com", Name: "Bob", Role: domain.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, created.Role)

	updated, err := UpsertUser(ctx, db, &domain.User{
		ID: "uid-2", IdentityID: strPtr("uid-2"), Email: "bob@example.com", Name: "Robert",
		Role: domain.RoleCreator, WalletAddress: "0xabc", PrivateKey: "iv:ct",
	})
	require.NoError(t, err)
	assert.Equal(t, "uid-1", updated.ID)
	assert.Equal(t, "Robert", updated.Name)
	assert.Equal(t, domain.RoleCreator, updated.Role)
	assert.Equal(t, "uid-2", *updated.IdentityID)
	assert.True(t, updated.HasWallet())

	var count int64
	require.NoError(t, db.Model(&domain.User{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpsertUserKeepsStoredWallet(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	first, err := UpsertUser(ctx, db, &domain.User{ID: "uid-1", IdentityID: strPtr("uid-1"), Email: "fay@example.com",
		Name: "Fay", Role: domain.RoleUser, WalletAddress: "0xaaa", PrivateKey: "aa:aa"})
	require.NoError(t, err)

	// a second sign-in that raced the first generated its own wallet and reuses the same id
	again, err := UpsertUser(ctx, db, &domain.User{ID: "uid-1", IdentityID: strPtr("uid-1"), Email: "fay@example.com",
		Name: "Fay F", Role: domain.RoleCreator, WalletAddress: "0xbbb", PrivateKey: "bb:bb"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Fay F", again.Name)
	assert.Equal(t, domain.RoleCreator, again.Role)
	assert.Equal(t, "0xaaa", again.WalletAddress)
	assert.Equal(t, "aa:aa", again.PrivateKey)
}

func TestSetUserWallet(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	seedUser(t, db, "uid-1", "carol@example.com")

	stored, err := SetUserWallet(ctx, db, "uid-1", "0x1234", "aa:bb")
	require.NoError(t, err)
	assert.True(t, stored)

	// an existing wallet is never replaced
	stored, err = SetUserWallet(ctx, db, "uid-1", "0x5678", "cc:dd")
	require.NoError(t, err)
	assert.False(t, stored)

	u, err := FindUserByID(ctx, db, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "0x1234", u.WalletAddress)
	assert.Equal(t, "aa:bb", u.PrivateKey)

	_, err = SetUserWallet(ctx, db, "missing", "0x", "x:y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredUnprocessedOrdersByDeadline(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	seedUser(t, db, "creator", "creator@example.com")
	now := time.Now().UTC()

	later := seedCampaign(t, db, "creator", "0x00000000000000000000000000000000000000a1", now.Add(-1*time.Hour))
	earlier := seedCampaign(t, db, "creator", "0x00000000000000000000000000000000000000a2", now.Add(-48*time.Hour))
	seedCampaign(t, db, "creator", "0x00000000000000000000000000000000000000a3", now.Add(24*time.Hour))
	done := seedCampaign(t, db, "creator", "0x00000000000000000000000000000000000000a4", now.Add(-2*time.Hour))
	_, err := MarkWithdrawalProcessed(ctx, db, done.ID, "0xdead")
	require.NoError(t, err)

	expired, err := ExpiredUnprocessed(ctx, db, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, earlier.ID, expired[0].ID)
	assert.Equal(t, later.ID, expired[1].ID)
}

func TestMarkWithdrawalProcessedOnlyOnce(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	seedUser(t, db, "creator", "creator@example.com")
	c := seedCampaign(t, db, "creator", "0x00000000000000000000000000000000000000b1", time.Now().Add(-time.Hour))

	flipped, err := MarkWithdrawalProcessed(ctx, db, c.ID, "0xfeed")
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = MarkWithdrawalProcessed(ctx, db, c.ID, "0xother")
	require.NoError(t, err)
	assert.False(t, flipped)

	got, err := CampaignByAddress(ctx, db, c.ContractAddress)
	require.NoError(t, err)
	assert.True(t, got.WithdrawalProcessed)
	require.NotNil(t, got.WithdrawalTxHash)
	assert.Equal(t, "0xfeed", *got.WithdrawalTxHash)
	assert.NotNil(t, got.WithdrawalProcessedAt)
}

func TestContributionStatsAndListings(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	seedUser(t, db, "creator", "creator@example.com")
	seedUser(t, db, "backer", "backer@example.com")
	c := seedCampaign(t, db, "creator", "0x00000000000000000000000000000000000000c1", time.Now().Add(time.Hour))

	for _, amount := range []string{"0.1", "0.25", "1"} {
		require.NoError(t, CreateContribution(ctx, db, &domain.Contribution{
			Amount: amount, CampaignID: c.ID, UserID: "backer", TxHash: strPtr("0x" + amount),
		}))
	}

	stats, err := GetContributionStats(ctx, db, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Count)
	assert.Equal(t, "1.35", stats.Total.String())

	records, total, err := ContributionsByUser(ctx, db, "backer", Page{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, records, 2)
	assert.Equal(t, c.Title, records[0].CampaignTitle)
	assert.Equal(t, c.ContractAddress, records[0].CampaignAddress)

	records, total, err = ContributionsByCampaign(ctx, db, c.ID, Page{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, records, 1)
	assert.Equal(t, "User backer", records[0].ContributorName)

	userStats, err := GetUserStats(ctx, db, "backer")
	require.NoError(t, err)
	assert.EqualValues(t, 3, userStats.ContributionsMade)
	assert.Equal(t, "1.35", userStats.TotalContributed)

	creatorStats, err := GetUserStats(ctx, db, "creator")
	require.NoError(t, err)
	assert.EqualValues(t, 1, creatorStats.CampaignsCreated)
}

func TestPage(t *testing.T) {
	p := Page{Page: 3, PageSize: 20}
	assert.Equal(t, 40, p.Offset())
	assert.Equal(t, 3, p.TotalPages(41))
	assert.Equal(t, 0, Page{Page: 0, PageSize: 20}.Offset())
}

func TestMarkWithdrawalProcessedSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE `campaigns` SET .*`withdrawal_processed`=.* WHERE \\(id = \\? AND withdrawal_processed = \\?\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	flipped, err := MarkWithdrawalProcessed(context.Background(), gdb, "campaign-1", "")
	require.NoError(t, err)
	assert.False(t, flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}
