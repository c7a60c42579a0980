package settlement

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"crowdfunding/internal/domain"
	"crowdfunding/internal/store"
)

// Status is the per-campaign result of a batch run
type Status string

const (
	StatusWithdrawn        Status = "withdrawn"
	StatusWithdrawalFailed Status = "withdrawal_failed"
	StatusWithdrawalError  Status = "withdrawal_error"
	StatusAlreadyWithdrawn Status = "already_withdrawn"
	StatusGoalNotReached   Status = "goal_not_reached"
	StatusNotExpired       Status = "not_expired"
	StatusProcessingError  Status = "processing_error"
)

// Outcome reports what happened to one campaign
type Outcome struct {
	CampaignID    string `json:"campaignId"`
	Title         string `json:"title"`
	Address       string `json:"address"`
	Status        Status `json:"status"`
	TxHash        string `json:"txHash,omitempty"`
	Amount        string `json:"amount,omitempty"`
	TotalRaised   string `json:"totalRaised,omitempty"`
	Goal          string `json:"goal,omitempty"`
	TimeRemaining int64  `json:"timeRemaining,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Report summarises a batch run
type Report struct {
	Processed int       `json:"processed"`
	Results   []Outcome `json:"results"`
}

// ProcessExpired settles every campaign whose deadline has passed and that has not
// been processed yet. Campaigns whose contract cannot be read are skipped and retried
// on the next run.
func (p *Processor) ProcessExpired(ctx context.Context) (*Report, error) {
	campaigns, err := store.ExpiredUnprocessed(ctx, p.db, p.now())
	if err != nil {
		return nil, err
	}
	report := &Report{Processed: len(campaigns), Results: []Outcome{}}
	for i := range campaigns {
		if ctx.Err() != nil {
			break
		}
		if out, ok := p.processOne(ctx, &campaigns[i]); ok {
			report.Results = append(report.Results, out)
		}
	}
	logrus.WithFields(logrus.Fields{"processed": report.Processed, "results": len(report.Results)}).Info("expired campaigns processed")
	return report, nil
}

func (p *Processor) processOne(ctx context.Context, c *domain.Campaign) (Outcome, bool) {
	log := logrus.WithFields(logrus.Fields{"campaign_id": c.ID, "campaign": c.ContractAddress})
	data, err := p.chain.CampaignData(ctx, c.ContractAddress)
	if err != nil {
		log.WithError(err).Warn("skipping campaign, contract state unavailable")
		return Outcome{}, false
	}

	out := Outcome{CampaignID: c.ID, Title: c.Title, Address: c.ContractAddress}
	switch {
	case data.IsActive:
		out.Status = StatusNotExpired
		out.TimeRemaining = data.TimeRemaining

	case data.IsSuccessful && !data.Withdrawn:
		w, err := p.settle(ctx, c)
		withdrawalsTotal.WithLabelValues("batch", outcome(err)).Inc()
		switch {
		case err == nil:
			out.Status = StatusWithdrawn
			out.TxHash = w.TxHash
			out.Amount = w.Amount
		case errors.Is(err, ErrRecordFailed):
			out.Status = StatusWithdrawalError
			out.TxHash = w.TxHash
			out.Error = err.Error()
		default:
			out.Status = StatusWithdrawalFailed
			out.Error = err.Error()
		}

	case data.IsSuccessful:
		out.Status = StatusAlreadyWithdrawn
		if _, err := store.MarkWithdrawalProcessed(ctx, p.db, c.ID, ""); err != nil {
			out.Status = StatusProcessingError
			out.Error = err.Error()
		}

	default:
		out.Status = StatusGoalNotReached
		out.TotalRaised = data.TotalContributed
		out.Goal = data.Goal
		if _, err := store.MarkWithdrawalProcessed(ctx, p.db, c.ID, ""); err != nil {
			out.Status = StatusProcessingError
			out.Error = err.Error()
		}
	}
	log.WithField("status", out.Status).Info("campaign processed")
	return out, true
}
