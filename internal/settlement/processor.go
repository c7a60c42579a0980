// Package settlement withdraws the funds of ended, successful campaigns to their creators,
// both on demand and as a batch over every expired campaign.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crowdfunding/internal/chain"
	"crowdfunding/internal/custody"
	"crowdfunding/internal/domain"
	"crowdfunding/internal/store"
	"crowdfunding/internal/utils"
)

var (
	ErrCreatorWallet  = errors.New("creator not found or has no wallet")
	ErrNotCreator     = errors.New("wallet is not the campaign creator")
	ErrGoalNotReached = errors.New("campaign goal not reached")
	ErrStillActive    = errors.New("campaign is still active")
	ErrInProgress     = errors.New("withdrawal already in progress")
	// ErrRecordFailed means the withdrawal was mined but could not be recorded
	ErrRecordFailed = errors.New("withdrawal succeeded but could not be recorded")
)

var withdrawalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auto_withdrawals_total",
		Help: "Campaign withdrawals attempted by the service",
	},
	[]string{"trigger", "outcome"},
)

func init() {
	prometheus.MustRegister(withdrawalsTotal)
}

// Withdrawal describes the funds released to a creator
type Withdrawal struct {
	TxHash           string `json:"transactionHash,omitempty"`
	GasUsed          uint64 `json:"gasUsed,omitempty"`
	Amount           string `json:"amount"`
	CreatorAddress   string `json:"creatorAddress"`
	AlreadyWithdrawn bool   `json:"alreadyWithdrawn"`
}

// Processor settles campaigns
type Processor struct {
	db      *gorm.DB
	rdb     *redis.Client
	chain   chain.Client
	vault   *custody.Vault
	lockTTL time.Duration
	now     func() time.Time
}

// NewProcessor wires a processor; rdb may be nil
func NewProcessor(db *gorm.DB, rdb *redis.Client, client chain.Client, vault *custody.Vault) *Processor {
	return &Processor{
		db:      db,
		rdb:     rdb,
		chain:   client,
		vault:   vault,
		lockTTL: 5 * time.Minute,
		now:     time.Now,
	}
}

// ShouldAutoWithdraw reports whether a campaign has ended successfully with funds
// still held by the contract and no settlement recorded yet
func ShouldAutoWithdraw(c *domain.Campaign, data *chain.CampaignData) bool {
	return c != nil && data != nil &&
		!data.IsActive &&
		data.IsSuccessful &&
		!data.Withdrawn &&
		!c.WithdrawalProcessed
}

// WithdrawCampaignFunds withdraws a campaign with its creator's custodial key after
// checking ownership, goal and deadline against the contract
func (p *Processor) WithdrawCampaignFunds(ctx context.Context, campaignAddress, creatorID string) (*Withdrawal, error) {
	creator, err := store.FindUserByID(ctx, p.db, creatorID)
	if err != nil || !creator.HasWallet() {
		return nil, ErrCreatorWallet
	}
	key, err := p.vault.PrivateKey(creator.PrivateKey)
	if err != nil {
		return nil, err
	}
	data, err := p.chain.CampaignData(ctx, campaignAddress)
	if err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}
	if !strings.EqualFold(data.Creator, creator.WalletAddress) {
		return nil, ErrNotCreator
	}
	if !data.IsSuccessful {
		return nil, ErrGoalNotReached
	}
	if data.IsActive {
		return nil, ErrStillActive
	}

	w := &Withdrawal{Amount: data.TotalContributed, CreatorAddress: creator.WalletAddress}
	if data.Withdrawn {
		w.AlreadyWithdrawn = true
		return w, nil
	}
	res, err := p.chain.Withdraw(ctx, key, campaignAddress)
	if err != nil {
		return nil, err
	}
	w.TxHash = res.TxHash
	w.GasUsed = res.GasUsed
	return w, nil
}

// Withdraw settles c on request of its creator
func (p *Processor) Withdraw(ctx context.Context, c *domain.Campaign) (*Withdrawal, error) {
	w, err := p.settle(ctx, c)
	withdrawalsTotal.WithLabelValues("manual", outcome(err)).Inc()
	return w, err
}

// MaybeWithdraw settles c when ShouldAutoWithdraw holds. Failures are logged, never returned.
func (p *Processor) MaybeWithdraw(ctx context.Context, c *domain.Campaign, data *chain.CampaignData) bool {
	if !ShouldAutoWithdraw(c, data) {
		return false
	}
	log := logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "campaign": c.ContractAddress})
	w, err := p.settle(ctx, c)
	withdrawalsTotal.WithLabelValues("auto", outcome(err)).Inc()
	if err != nil {
		if errors.Is(err, ErrInProgress) {
			log.Debug("auto-withdrawal already running elsewhere")
		} else {
			log.WithError(err).Error("auto-withdrawal failed")
		}
		return false
	}
	log.WithFields(logrus.Fields{"tx_hash": w.TxHash, "amount": w.Amount}).Info("auto-withdrawal completed")
	return true
}

// settle withdraws and records c while holding the campaign's lock
func (p *Processor) settle(ctx context.Context, c *domain.Campaign) (*Withdrawal, error) {
	lock, err := utils.AcquireLock(ctx, p.rdb, "settlement:lock:"+strings.ToLower(c.ContractAddress), p.lockTTL)
	if err != nil {
		// fail open on Redis errors
		logrus.WithError(err).Warn("settlement lock unavailable")
	} else if lock == nil {
		return nil, ErrInProgress
	}
	defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()

	w, err := p.WithdrawCampaignFunds(ctx, c.ContractAddress, c.CreatorID)
	if err != nil {
		return nil, err
	}
	// the withdrawal is final on chain, record it even if the caller has gone
	rctx := context.WithoutCancel(ctx)
	flipped, err := store.MarkWithdrawalProcessed(rctx, p.db, c.ID, w.TxHash)
	if err != nil {
		logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "tx_hash": w.TxHash, "error": err.Error()}).Error("failed to record withdrawal")
		return w, fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}
	if !flipped {
		logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "tx_hash": w.TxHash}).Warn("withdrawal was already recorded, keeping the stored transaction")
	}
	now := p.now().UTC()
	c.WithdrawalProcessed = true
	c.WithdrawalProcessedAt = &now
	if w.TxHash != "" {
		c.WithdrawalTxHash = &w.TxHash
	}
	_ = utils.DeleteCache(rctx, p.rdb, utils.CampaignChainKey(c.ContractAddress))
	return w, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "withdrawn"
	case errors.Is(err, ErrInProgress):
		return "skipped"
	default:
		return "failed"
	}
}
