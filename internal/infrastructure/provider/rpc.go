package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// feeSource ethclient 中用到的两个方法
type feeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

var weiPerGwei = decimal.New(1, 9)

// RPCProvider 通过以太坊 JSON-RPC 读取最新区块的 baseFee 与建议小费
// maxFee 采用 2*baseFee + tip
type RPCProvider struct {
	name   string
	client feeSource
	now    func() time.Time
}

var _ port.Provider = (*RPCProvider)(nil)

func NewRPCProvider(cfg Config) (*RPCProvider, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	// http(s) 端点拨号不会建立连接
	client, err := ethclient.DialContext(context.Background(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	name := cfg.Name
	if name == "" {
		name = "rpc"
	}
	return newRPCProvider(name, client), nil
}

func newRPCProvider(name string, client feeSource) *RPCProvider {
	return &RPCProvider{name: name, client: client, now: time.Now}
}

func (p *RPCProvider) Name() string { return p.name }

// Close 释放底层 RPC 连接
func (p *RPCProvider) Close() error {
	if c, ok := p.client.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func (p *RPCProvider) Fetch(ctx context.Context, network string) (domain.PriceSample, error) {
	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("latest header: %w", err)
	}
	if header.BaseFee == nil {
		return domain.PriceSample{}, fmt.Errorf("%w: block %s has no base fee", domain.ErrProviderInvalidResponse, header.Number)
	}
	tip, err := p.client.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("suggest tip: %w", err)
	}

	base := toGwei(header.BaseFee)
	priority := toGwei(tip)
	maxFee := base.Mul(decimal.NewFromInt(2)).Add(priority)

	var block *uint64
	if header.Number != nil && header.Number.IsUint64() {
		n := header.Number.Uint64()
		block = &n
	}
	return domain.NewPriceSample(network, p.name, base, priority, maxFee, block, p.now()), nil
}

func toGwei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Div(weiPerGwei)
}
