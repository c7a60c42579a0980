// Package chain wraps the pre-deployed campaign factory and campaign contracts.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrInvalidAddress is returned for malformed contract or wallet addresses
	ErrInvalidAddress = errors.New("invalid address format")
	// ErrNoContract means nothing is deployed at the address
	ErrNoContract = errors.New("no contract deployed at address")
	// ErrInsufficientFunds means the wallet cannot pay for the value plus gas
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrGasEstimation means the node predicts the transaction would revert
	ErrGasEstimation = errors.New("transaction would fail during gas estimation")
	// ErrUnavailable means no RPC endpoint answered
	ErrUnavailable = errors.New("unable to connect to any RPC endpoint")
	// ErrReverted means the transaction was mined with a failed status
	ErrReverted = errors.New("transaction reverted")
	// ErrInvalidArgument covers out-of-range goals and durations
	ErrInvalidArgument = errors.New("invalid argument")
)

// MaxDuration is the longest campaign the factory accepts
const MaxDuration = 365 * 24 * time.Hour

// CampaignData is a snapshot of a campaign contract's state
type CampaignData struct {
	Address             string   `json:"address"`
	Creator             string   `json:"creator"`
	Goal                string   `json:"goal"`
	GoalWei             *big.Int `json:"goalWei"`
	Deadline            int64    `json:"deadline"`
	TotalContributed    string   `json:"totalContributed"`
	TotalContributedWei *big.Int `json:"totalContributedWei"`
	Withdrawn           bool     `json:"withdrawn"`
	IsActive            bool     `json:"isActive"`
	IsSuccessful        bool     `json:"isSuccessful"`
	TimeRemaining       int64    `json:"timeRemaining"`
}

// TxResult describes a mined transaction
type TxResult struct {
	TxHash      string `json:"transactionHash"`
	GasUsed     uint64 `json:"gasUsed"`
	BlockNumber uint64 `json:"blockNumber"`
}

// CreateResult is a mined createCampaign call and the deployed campaign
type CreateResult struct {
	TxResult
	CampaignAddress string `json:"campaignAddress"`
}

// GasEstimate is the predicted cost of a transaction
type GasEstimate struct {
	GasLimit uint64   `json:"gasLimit"`
	GasPrice *big.Int `json:"gasPrice"`
	Cost     *big.Int `json:"cost"`
}

// Client is the contract surface the service relies on
type Client interface {
	CampaignData(ctx context.Context, address string) (*CampaignData, error)
	CreateCampaign(ctx context.Context, key *ecdsa.PrivateKey, goal *big.Int, duration time.Duration) (*CreateResult, error)
	EstimateCreateCampaign(ctx context.Context, key *ecdsa.PrivateKey, goal *big.Int, duration time.Duration) (*GasEstimate, error)
	Contribute(ctx context.Context, key *ecdsa.PrivateKey, campaign string, amount *big.Int) (*TxResult, error)
	Withdraw(ctx context.Context, key *ecdsa.PrivateKey, campaign string) (*TxResult, error)
	Refund(ctx context.Context, key *ecdsa.PrivateKey, campaign string) (*TxResult, error)
	Contribution(ctx context.Context, campaign, contributor string) (*big.Int, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// NewCampaignData derives the status fields of a campaign snapshot at now
func NewCampaignData(address, creator string, goal, deadline, total *big.Int, withdrawn bool, now time.Time) *CampaignData {
	end := deadline.Int64()
	remaining := end - now.Unix()
	if remaining < 0 {
		remaining = 0
	}
	return &CampaignData{
		Address:             address,
		Creator:             creator,
		Goal:                FormatEther(goal),
		GoalWei:             goal,
		Deadline:            end,
		TotalContributed:    FormatEther(total),
		TotalContributedWei: total,
		Withdrawn:           withdrawn,
		IsActive:            now.Unix() < end,
		IsSuccessful:        total.Cmp(goal) >= 0,
		TimeRemaining:       remaining,
	}
}

// ValidateDuration checks a campaign duration against the factory limits
func ValidateDuration(d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("%w: duration must be greater than 0", ErrInvalidArgument)
	}
	if d > MaxDuration {
		return fmt.Errorf("%w: duration cannot exceed 365 days", ErrInvalidArgument)
	}
	return nil
}
