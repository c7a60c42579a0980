// Package campaigns merges stored campaigns with their live contract state.
package campaigns

import (
	"context"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"crowdfunding/internal/chain"
	"crowdfunding/internal/domain"
	"crowdfunding/internal/settlement"
	"crowdfunding/internal/store"
	"crowdfunding/internal/utils"
)

// Campaign statuses shown to clients
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// View is a campaign row enriched with contract state and contribution totals
type View struct {
	domain.Campaign
	CreatorName       string              `json:"creator_name,omitempty"`
	Address           string              `json:"address"`
	Goal              string              `json:"goal"`
	CreatorAddress    string              `json:"creator,omitempty"`
	Live              bool                `json:"isActive"`
	Blockchain        *chain.CampaignData `json:"blockchain"`
	BlockchainError   string              `json:"blockchainError,omitempty"`
	Status            string              `json:"status"`
	Progress          float64             `json:"progress"`
	TimeRemaining     int64               `json:"timeRemaining"`
	TotalRaised       string              `json:"totalRaised"`
	GoalAmount        string              `json:"goalAmount"`
	TotalContributed  string              `json:"totalContributed"`
	Withdrawn         bool                `json:"withdrawn"`
	IsSuccessful      bool                `json:"isSuccessful"`
	ContributionCount int64               `json:"contributionCount"`
}

// Enricher builds views, triggering auto-withdrawal for campaigns it finds settled
type Enricher struct {
	db       *gorm.DB
	rdb      *redis.Client
	chain    chain.Client
	settler  *settlement.Processor
	cacheTTL time.Duration
	limit    int
	now      func() time.Time
}

// NewEnricher wires an enricher; rdb and settler may be nil
func NewEnricher(db *gorm.DB, rdb *redis.Client, client chain.Client, settler *settlement.Processor) *Enricher {
	return &Enricher{
		db:       db,
		rdb:      rdb,
		chain:    client,
		settler:  settler,
		cacheTTL: 15 * time.Second,
		limit:    8,
		now:      time.Now,
	}
}

// Snapshot returns contract state for address, served from Redis for a few seconds.
// Time derived fields are recomputed on every read.
func (e *Enricher) Snapshot(ctx context.Context, address string) (*chain.CampaignData, error) {
	key := utils.CampaignChainKey(address)
	var cached chain.CampaignData
	if found, err := utils.GetCache(ctx, e.rdb, key, &cached); err == nil && found && cached.GoalWei != nil && cached.TotalContributedWei != nil {
		return chain.NewCampaignData(cached.Address, cached.Creator, cached.GoalWei, big.NewInt(cached.Deadline),
			cached.TotalContributedWei, cached.Withdrawn, e.now()), nil
	}
	data, err := e.chain.CampaignData(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := utils.SetCache(ctx, e.rdb, key, data, e.cacheTTL); err != nil {
		logrus.WithError(err).Warn("failed to cache campaign state")
	}
	return data, nil
}

// EnrichAll enriches campaigns concurrently, preserving order
func (e *Enricher) EnrichAll(ctx context.Context, campaigns []domain.Campaign) []View {
	views := make([]View, len(campaigns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i := range campaigns {
		g.Go(func() error {
			views[i] = e.Enrich(gctx, campaigns[i])
			return nil
		})
	}
	_ = g.Wait()
	return views
}

// Enrich builds the view of one campaign. Contract or database failures degrade the
// view to stored values instead of failing.
func (e *Enricher) Enrich(ctx context.Context, c domain.Campaign) View {
	log := logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "campaign": c.ContractAddress})
	v := View{Address: c.ContractAddress, Goal: c.Target, GoalAmount: c.Target}
	if c.Creator != nil {
		v.CreatorName = c.Creator.Name
	}

	data, err := e.Snapshot(ctx, c.ContractAddress)
	if err != nil {
		log.WithError(err).Warn("contract state unavailable")
		v.BlockchainError = err.Error()
	} else if e.settler != nil && e.settler.MaybeWithdraw(ctx, &c, data) {
		data.Withdrawn = true
	}
	v.Campaign = c
	v.Blockchain = data

	stats, err := store.GetContributionStats(ctx, e.db, c.ID)
	if err != nil {
		log.WithError(err).Warn("failed to load contribution stats")
	}
	v.ContributionCount = stats.Count

	if data != nil {
		v.Goal = data.Goal
		v.GoalAmount = data.Goal
		v.CreatorAddress = data.Creator
		v.Live = data.IsActive
		v.TimeRemaining = data.TimeRemaining
		v.TotalRaised = data.TotalContributed
		v.TotalContributed = data.TotalContributed
		v.Withdrawn = data.Withdrawn
		v.IsSuccessful = data.IsSuccessful
		v.Progress = progress(chain.EtherDecimal(data.TotalContributedWei), chain.EtherDecimal(data.GoalWei))
	} else {
		remaining := int64(c.Deadline.Sub(e.now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		target, _ := decimal.NewFromString(c.Target)
		v.TimeRemaining = remaining
		v.Live = c.IsActive && remaining > 0
		v.TotalRaised = stats.Total.String()
		v.TotalContributed = v.TotalRaised
		v.Withdrawn = c.WithdrawalProcessed
		v.IsSuccessful = !target.IsZero() && stats.Total.GreaterThanOrEqual(target)
		v.Progress = progress(stats.Total, target)
	}

	v.Status = StatusInactive
	if v.Live {
		v.Status = StatusActive
	}
	return v
}

// progress is raised/goal as a percentage rounded to two places
func progress(raised, goal decimal.Decimal) float64 {
	if goal.Sign() <= 0 {
		return 0
	}
	pct, _ := raised.Div(goal).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return pct
}
