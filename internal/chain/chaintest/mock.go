// Package chaintest provides a testify mock of chain.Client.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/stretchr/testify/mock"

	"crowdfunding/internal/chain"
)

// Client is a mock chain.Client
type Client struct {
	mock.Mock
}

var _ chain.Client = (*Client)(nil)

func (m *Client) CampaignData(ctx context.Context, address string) (*chain.CampaignData, error) {
	args := m.Called(ctx, address)
	data, _ := args.Get(0).(*chain.CampaignData)
	return data, args.Error(1)
}

func (m *Client) CreateCampaign(ctx context.Context, key *ecdsa.PrivateKey, goal *big.Int, duration time.Duration) (*chain.CreateResult, error) {
	args := m.Called(ctx, key, goal, duration)
	res, _ := args.Get(0).(*chain.CreateResult)
	return res, args.Error(1)
}

func (m *Client) EstimateCreateCampaign(ctx context.Context, key *ecdsa.PrivateKey, goal *big.Int, duration time.Duration) (*chain.GasEstimate, error) {
	args := m.Called(ctx, key, goal, duration)
	est, _ := args.Get(0).(*chain.GasEstimate)
	return est, args.Error(1)
}

func (m *Client) Contribute(ctx context.Context, key *ecdsa.PrivateKey, campaign string, amount *big.Int) (*chain.TxResult, error) {
	args := m.Called(ctx, key, campaign, amount)
	res, _ := args.Get(0).(*chain.TxResult)
	return res, args.Error(1)
}

func (m *Client) Withdraw(ctx context.Context, key *ecdsa.PrivateKey, campaign string) (*chain.TxResult, error) {
	args := m.Called(ctx, key, campaign)
	res, _ := args.Get(0).(*chain.TxResult)
	return res, args.Error(1)
}

func (m *Client) Refund(ctx context.Context, key *ecdsa.PrivateKey, campaign string) (*chain.TxResult, error) {
	args := m.Called(ctx, key, campaign)
	res, _ := args.Get(0).(*chain.TxResult)
	return res, args.Error(1)
}

func (m *Client) Contribution(ctx context.Context, campaign, contributor string) (*big.Int, error) {
	args := m.Called(ctx, campaign, contributor)
	amount, _ := args.Get(0).(*big.Int)
	return amount, args.Error(1)
}

func (m *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	args := m.Called(ctx, address)
	bal, _ := args.Get(0).(*big.Int)
	return bal, args.Error(1)
}

// Ether converts a decimal ETH string to wei and panics on bad input
func Ether(s string) *big.Int {
	wei, err := chain.ParseEther(s)
	if err != nil {
		panic(err)
	}
	return wei
}

// Snapshot builds campaign data relative to now
func Snapshot(address, creator, goal, total string, remaining time.Duration, withdrawn bool) *chain.CampaignData {
	now := time.Now()
	deadline := big.NewInt(now.Add(remaining).Unix())
	return chain.NewCampaignData(address, creator, Ether(goal), deadline, Ether(total), withdrawn, now)
}
