package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

const maxResponseBytes = 1 << 20

// JSONProvider HTTP GET 上游，通过 gjson 路径把不同的响应结构归一化
type JSONProvider struct {
	name       string
	endpoint   string
	apiKey     string
	keyParam   string
	headers    map[string]string
	paths      paths
	scale      decimal.Decimal
	httpClient *http.Client
	now        func() time.Time
}

var _ port.Provider = (*JSONProvider)(nil)

func NewJSONProvider(cfg Config) (*JSONProvider, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	p, err := cfg.resolvePaths()
	if err != nil {
		return nil, err
	}
	scale, err := unitScale(cfg.Unit)
	if err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Preset
	}
	return &JSONProvider{
		name:       name,
		endpoint:   cfg.URL,
		apiKey:     cfg.APIKey,
		keyParam:   cfg.APIKeyParam,
		headers:    cfg.Headers,
		paths:      p,
		scale:      scale,
		httpClient: client,
		now:        time.Now,
	}, nil
}

func (p *JSONProvider) Name() string { return p.name }

func (p *JSONProvider) Fetch(ctx context.Context, network string) (domain.PriceSample, error) {
	body, err := p.get(ctx)
	if err != nil {
		return domain.PriceSample{}, err
	}
	if !gjson.ValidBytes(body) {
		return domain.PriceSample{}, fmt.Errorf("%w: body is not JSON", domain.ErrProviderInvalidResponse)
	}
	doc := gjson.ParseBytes(body)

	if p.paths.status != "" {
		if got := doc.Get(p.paths.status).String(); got != p.paths.statusOK {
			return domain.PriceSample{}, fmt.Errorf("%w: status %q", domain.ErrProviderInvalidResponse, got)
		}
	}

	base, err := p.field(doc, p.paths.base)
	if err != nil {
		return domain.PriceSample{}, err
	}
	priority, err := p.field(doc, p.paths.priority)
	if err != nil {
		return domain.PriceSample{}, err
	}
	maxFee, err := p.field(doc, p.paths.max)
	if err != nil {
		return domain.PriceSample{}, err
	}

	var block *uint64
	if p.paths.block != "" {
		if r := doc.Get(p.paths.block); r.Exists() {
			n, err := parseUint(r)
			if err != nil {
				return domain.PriceSample{}, fmt.Errorf("%w: %s: %v", domain.ErrProviderInvalidResponse, p.paths.block, err)
			}
			block = &n
		}
	}

	return domain.NewPriceSample(network, p.name, base, priority, maxFee, block, p.now()), nil
}

func (p *JSONProvider) get(ctx context.Context) ([]byte, error) {
	endpoint := p.endpoint
	if p.apiKey != "" && p.keyParam != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set(p.keyParam, p.apiKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	if p.apiKey != "" && p.keyParam == "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s http %d: %s", p.name, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func (p *JSONProvider) field(doc gjson.Result, path string) (decimal.Decimal, error) {
	r := doc.Get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Decimal{}, fmt.Errorf("%w: missing %s", domain.ErrProviderInvalidResponse, path)
	}
	v, err := parseDecimal(r)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s: %v", domain.ErrProviderInvalidResponse, path, err)
	}
	return v.Mul(p.scale), nil
}

// parseDecimal 接受 JSON 数字、十进制字符串和 0x 十六进制字符串
func parseDecimal(r gjson.Result) (decimal.Decimal, error) {
	switch r.Type {
	case gjson.Number:
		return decimal.NewFromString(r.Raw)
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return decimal.Decimal{}, fmt.Errorf("bad hex %q", s)
			}
			return decimal.NewFromBigInt(n, 0), nil
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected %s", r.Type)
	}
}

func parseUint(r gjson.Result) (uint64, error) {
	switch r.Type {
	case gjson.Number:
		return strconv.ParseUint(r.Raw, 10, 64)
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return strconv.ParseUint(s[2:], 16, 64)
		}
		return strconv.ParseUint(s, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected %s", r.Type)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
