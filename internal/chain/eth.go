package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// probeInterval is how long a healthy endpoint is trusted before it is probed again
const probeInterval = 30 * time.Second

// Options configures an EthClient
type Options struct {
	URLs           []string      // primary endpoint first, then fallbacks
	FactoryAddress string        // deployed campaign factory
	ChainID        int64         // expected chain, 0 accepts the first endpoint's chain
	ReceiptTimeout time.Duration // wait for mined receipts
}

// EthClient implements Client over JSON-RPC with endpoint fallback
type EthClient struct {
	urls           []string
	factory        common.Address
	factoryABI     abi.ABI
	campaignABI    abi.ABI
	receiptTimeout time.Duration
	now            func() time.Time

	mu        sync.Mutex
	backend   *ethclient.Client
	chainID   *big.Int
	lastProbe time.Time
}

type conn struct {
	backend *ethclient.Client
	chainID *big.Int
}

// NewEthClient validates opts; endpoints are dialed on first use
func NewEthClient(opts Options) (*EthClient, error) {
	if len(opts.URLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}
	if !ValidAddress(opts.FactoryAddress) {
		return nil, fmt.Errorf("factory: %w", ErrInvalidAddress)
	}
	fabi, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	cabi, err := abi.JSON(strings.NewReader(campaignABI))
	if err != nil {
		return nil, fmt.Errorf("parse campaign abi: %w", err)
	}
	c := &EthClient{
		urls:           opts.URLs,
		factory:        common.HexToAddress(opts.FactoryAddress),
		factoryABI:     fabi,
		campaignABI:    cabi,
		receiptTimeout: opts.ReceiptTimeout,
		now:            time.Now,
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 2 * time.Minute
	}
	if opts.ChainID > 0 {
		c.chainID = big.NewInt(opts.ChainID)
	}
	return c, nil
}

// Close releases the live connection
func (c *EthClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

// ensureConnection returns a working endpoint, walking the URL list when the current one fails
func (c *EthClient) ensureConnection(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil {
		if time.Since(c.lastProbe) < probeInterval {
			return &conn{c.backend, c.chainID}, nil
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := c.backend.ChainID(pctx)
		cancel()
		if err == nil {
			c.lastProbe = time.Now()
			return &conn{c.backend, c.chainID}, nil
		}
		logrus.WithError(err).Warn("current RPC endpoint failed, trying fallbacks")
		c.backend.Close()
		c.backend = nil
	}

	for i, url := range c.urls {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		backend, err := ethclient.DialContext(dctx, url)
		var id *big.Int
		if err == nil {
			id, err = backend.ChainID(dctx)
		}
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{"endpoint": i, "error": err.Error()}).Warn("RPC endpoint unreachable")
			if backend != nil {
				backend.Close()
			}
			continue
		}
		if c.chainID != nil && c.chainID.Cmp(id) != 0 {
			logrus.WithFields(logrus.Fields{"endpoint": i, "chain_id": id.String(), "want": c.chainID.String()}).Warn("RPC endpoint serves another chain")
			backend.Close()
			continue
		}
		c.backend, c.chainID, c.lastProbe = backend, id, time.Now()
		logrus.WithFields(logrus.Fields{"endpoint": i, "chain_id": id.String()}).Info("connected to RPC endpoint")
		return &conn{c.backend, c.chainID}, nil
	}
	return nil, ErrUnavailable
}

func (c *EthClient) bound(cn *conn, address common.Address, contractABI abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(address, contractABI, cn.backend, cn.backend, cn.backend)
}

func (c *EthClient) call(ctx context.Context, cn *conn, address common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	var out []any
	err := c.bound(cn, address, contractABI).Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// first type-asserts the first return value of a contract call
func first[T any](out []any, method string) (T, error) {
	var zero T
	if len(out) == 0 {
		return zero, fmt.Errorf("%s: empty result", method)
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

func (c *EthClient) requireCode(ctx context.Context, cn *conn, address common.Address) error {
	code, err := cn.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return fmt.Errorf("get code: %w", err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: %s", ErrNoContract, address.Hex())
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if !ValidAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// CampaignData reads the campaign contract state
func (c *EthClient) CampaignData(ctx context.Context, address string) (data *CampaignData, err error) {
	defer func() { observe("campaignData", err) }()
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	cn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.requireCode(ctx, cn, addr); err != nil {
		return nil, err
	}

	var (
		creator                common.Address
		goal, deadline, total *big.Int
		withdrawn              bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out, err := c.call(gctx, cn, addr, c.campaignABI, "creator")
		if err == nil {
			creator, err = first[common.Address](out, "creator")
		}
		return err
	})
	g.Go(func() (err error) {
		out, err := c.call(gctx, cn, addr, c.campaignABI, "goal")
		if err == nil {
			goal, err = first[*big.Int](out, "goal")
		}
		return err
	})
	g.Go(func() (err error) {
		out, err := c.call(gctx, cn, addr, c.campaignABI, "deadline")
		if err == nil {
			deadline, err = first[*big.Int](out, "deadline")
		}
		return err
	})
	g.Go(func() (err error) {
		out, err := c.call(gctx, cn, addr, c.campaignABI, "totalContributed")
		if err == nil {
			total, err = first[*big.Int](out, "totalContributed")
		}
		return err
	})
	g.Go(func() (err error) {
		out, err := c.call(gctx, cn, addr, c.campaignABI, "withdrawn")
		if err == nil {
			withdrawn, err = first[bool](out, "withdrawn")
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewCampaignData(addr.Hex(), creator.Hex(), goal, deadline, total, withdrawn, c.now()), nil
}

// Balance returns the wei balance of address
func (c *EthClient) Balance(ctx context.Context, address string) (bal *big.Int, err error) {
	defer func() { observe("balance", err) }()
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	cn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	return cn.backend.BalanceAt(ctx, addr, nil)
}

// Contribution returns how much contributor has put into campaign
func (c *EthClient) Contribution(ctx context.Context, campaign, contributor string) (amount *big.Int, err error) {
	defer func() { observe("contributions", err) }()
	campaignAddr, err := parseAddress(campaign)
	if err != nil {
		return nil, err
	}
	contributorAddr, err := parseAddress(contributor)
	if err != nil {
		return nil, err
	}
	cn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, cn, campaignAddr, c.campaignABI, "contributions", contributorAddr)
	if err != nil {
		return nil, err
	}
	return first[*big.Int](out, "contributions")
}

// campaigns lists every campaign the factory has deployed
func (c *EthClient) campaigns(ctx context.Context, cn *conn) ([]common.Address, error) {
	out, err := c.call(ctx, cn, c.factory, c.factoryABI, "getCampaigns")
	if err != nil {
		return nil, err
	}
	return first[[]common.Address](out, "getCampaigns")
}

// CreateCampaign deploys a campaign through the factory and returns its address
func (c *EthClient) CreateCampaign(ctx context.Context, key *ecdsa.PrivateKey, goal *big.Int, duration time.Duration) (res *CreateResult, err error) {
	defer func() { observe("createCampaign", err) }()
	if goal == nil || goal.Sign() <= 0 {
		return nil, fmt.Errorf("%w: goal must be greater than 0", ErrInvalidArgument)
	}
	if err := ValidateDuration(duration); err != nil {
		return nil, err
	}
	cn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	bal, err := cn.backend.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if bal.Sign() == 0 {
		return nil, fmt.Errorf("%w: wallet %s has no ETH to pay for gas", ErrInsufficientFunds, from.Hex())
	}
	if err := c.requireCode(ctx, cn, c.factory); err != nil {
		return nil, err
	}
	if _, err := c.campaigns(ctx, cn); err != nil {
		return nil, fmt.Errorf("factory not responding: %w", err)
	}

	seconds := big.NewInt(int64(duration / time.Second))
	receipt, err := c.transact(ctx, cn, key, c.factory, c.factoryABI, nil, "createCampaign", goal, seconds)
	if err != nil {
		return nil, err
	}

	res = &CreateResult{TxResult: txResult(receipt)}
	if all, err := c.campaigns(ctx, cn); err == nil && len(all) > 0 {
		res.CampaignAddress = all[len(all)-1].Hex()
	} else if addr, ok := createdFromLogs(receipt, c.factory); ok {
		res.CampaignAddress = addr.Hex()
	} else {
		return nil, fmt.Errorf("campaign created in %s but its address could not be determined", res.TxHash)
	}
	logrus.WithFields(logrus.Fields{
		"campaign": res.CampaignAddress,
		"creator":  from.Hex(),
		"tx_hash":  res.TxHash,
	}).Info("campaign deployed")
	return res, nil
}

// createdFromLogs finds the campaign address in the factory's CampaignCreated event
func createdFromLogs(receipt *types.Receipt, factory common.Address) (common.Address, bool) {
	topic := crypto.Keccak256Hash([]byte(campaignCreatedSig))
	for _, l := range receipt.Logs {
		if l.Address == factory && len(l.Topics) >= 3 && l.Topics[0] == topic {
			return common.BytesToAddress(l.Topics[2].Bytes()), true
		}
	}
	return common.Address{}, false
}

// EstimateCreateCampaign predicts the gas and cost of CreateCampaign
func (c *EthClient) EstimateCreateCampaign(ctx context.Context, key *ecdsa.PrivateKey, goal *big.Int, duration time.Duration) (est *GasEstimate, err error) {
	defer func() { observe("estimateCreateCampaign", err) }()
	if goal == nil || goal.Sign() <= 0 {
		return nil, fmt.Errorf("%w: goal must be greater than 0", ErrInvalidArgument)
	}
	if err := ValidateDuration(duration); err != nil {
		return nil, err
	}
	cn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	input, err := c.factoryABI.Pack("createCampaign", goal, big.NewInt(int64(duration/time.Second)))
	if err != nil {
		return nil, err
	}
	gas, err := cn.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: crypto.PubkeyToAddress(key.PublicKey),
		To:   &c.factory,
		Data: input,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}
	price, err := cn.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gas), price)
	return &GasEstimate{GasLimit: gas, GasPrice: price, Cost: cost}, nil
}

// Contribute sends amount wei to campaign from the key's wallet
func (c *EthClient) Contribute(ctx context.Context, key *ecdsa.PrivateKey, campaign string, amount *big.Int) (res *TxResult, err error) {
	defer func() { observe("contribute", err) }()
	addr, err := parseAddress(campaign)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", ErrInvalidArgument)
	}
	cn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	bal, err := cn.backend.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	need := new(big.Int).Add(amount, GasReserve)
	if bal.Cmp(need) < 0 {
		return nil, fmt.Errorf("%w: have %s ETH, need %s ETH including gas", ErrInsufficientFunds, FormatEther(bal), FormatEther(need))
	}
	if err := c.requireCode(ctx, cn, addr); err != nil {
		return nil, err
	}
	// the contract enforces deadline and state; a failed read here is only worth a log line
	if data, err := c.CampaignData(ctx, campaign); err != nil {
		logrus.WithFields(logrus.Fields{"campaign": campaign, "error": err.Error()}).Warn("could not read campaign before contributing")
	} else if !data.IsActive {
		logrus.WithField("campaign", campaign).Warn("contributing to a campaign past its deadline")
	}

	receipt, err := c.transact(ctx, cn, key, addr, c.campaignABI, amount, "contribute")
	if err != nil {
		return nil, err
	}
	r := txResult(receipt)
	return &r, nil
}

// Withdraw releases the funds of a successful campaign to its creator
func (c *EthClient) Withdraw(ctx context.Context, key *ecdsa.PrivateKey, campaign string) (res *TxResult, err error) {
	defer func() { observe("withdraw", err) }()
	return c.send(ctx, key, campaign, "withdraw")
}

// Refund returns the caller's contribution to a failed campaign
func (c *EthClient) Refund(ctx context.Context, key *ecdsa.PrivateKey, campaign string) (res *TxResult, err error) {
	defer func() { observe("refund", err) }()
	return c.send(ctx, key, campaign, "refund")
}

func (c *EthClient) send(ctx context.Context, key *ecdsa.PrivateKey, campaign, method string) (*TxResult, error) {
	addr, err := parseAddress(campaign)
	if err != nil {
		return nil, err
	}
	cn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := c.transact(ctx, cn, key, addr, c.campaignABI, nil, method)
	if err != nil {
		return nil, err
	}
	r := txResult(receipt)
	return &r, nil
}

// transact estimates gas, signs and sends method, then waits for the receipt.
// Fee fields are left to bind, which prices EIP-1559 transactions from the latest header.
func (c *EthClient) transact(ctx context.Context, cn *conn, key *ecdsa.PrivateKey, to common.Address, contractABI abi.ABI, value *big.Int, method string, args ...any) (*types.Receipt, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	gas, err := cn.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: input})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, cn.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	auth.GasLimit = withGasBuffer(gas)
	auth.Value = value

	tx, err := c.bound(cn, to, contractABI).Transact(auth, method, args...)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	log := logrus.WithFields(logrus.Fields{"method": method, "from": from.Hex(), "to": to.Hex(), "tx_hash": tx.Hash().Hex()})
	log.Info("transaction sent")

	// once broadcast the transaction is out of our hands; keep waiting if the caller goes away
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(wctx, cn.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s %s", ErrReverted, method, tx.Hash().Hex())
	}
	log.WithField("gas_used", receipt.GasUsed).Info("transaction confirmed")
	return receipt, nil
}

func txResult(r *types.Receipt) TxResult {
	res := TxResult{TxHash: r.TxHash.Hex(), GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		res.BlockNumber = r.BlockNumber.Uint64()
	}
	return res
}
