package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config 单个上游的构造参数
type Config struct {
	Name string
	Kind string
	URL  string

	// json 类型：preset 提供默认路径，显式路径覆盖 preset
	Preset       string
	BasePath     string
	PriorityPath string
	MaxPath      string
	BlockPath    string
	StatusPath   string
	StatusOK     string
	Unit         string

	APIKey      string
	APIKeyParam string
	Headers     map[string]string

	// static 类型
	Base     string
	Priority string
	Max      string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// paths 响应字段到样本字段的映射
type paths struct {
	base, priority, max, block string
	status, statusOK           string
}

var presets = map[string]paths{
	"eip1559": {
		base:     "baseFeePerGas",
		priority: "maxPriorityFeePerGas",
		max:      "maxFeePerGas",
		block:    "blockNumber",
	},
	"etherscan": {
		base:     "result.suggestBaseFee",
		priority: "result.SafeGasPrice",
		max:      "result.FastGasPrice",
		block:    "result.LastBlock",
		status:   "status",
		statusOK: "1",
	},
	"gasstation": {
		base:     "safe_low",
		priority: "average",
		max:      "fast",
		block:    "blockNum",
	},
	"ethgaswatch": {
		base:     "safeLow",
		priority: "standard",
		max:      "fast",
	},
}

func (c Config) resolvePaths() (paths, error) {
	p := paths{}
	if c.Preset != "" {
		preset, ok := presets[strings.ToLower(c.Preset)]
		if !ok {
			return paths{}, fmt.Errorf("unknown preset %q", c.Preset)
		}
		p = preset
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&p.base, c.BasePath)
	override(&p.priority, c.PriorityPath)
	override(&p.max, c.MaxPath)
	override(&p.block, c.BlockPath)
	override(&p.status, c.StatusPath)
	override(&p.statusOK, c.StatusOK)

	if p.base == "" || p.priority == "" || p.max == "" {
		return paths{}, fmt.Errorf("base, priority and max paths are required")
	}
	return p, nil
}

var units = map[string]decimal.Decimal{
	"":      decimal.NewFromInt(1),
	"gwei":  decimal.NewFromInt(1),
	"wei":   decimal.New(1, -9),
	"ether": decimal.New(1, 9),
	"eth":   decimal.New(1, 9),
}

// unitScale 换算到 gwei 的倍数
func unitScale(unit string) (decimal.Decimal, error) {
	s, ok := units[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unknown unit %q", unit)
	}
	return s, nil
}
