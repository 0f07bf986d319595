package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// Repo 每个网络一个有序集合（score 为 observedAt 毫秒），另有最新值 hash 与发布频道
type Repo struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	keyLatest   string // prefix + ":latest"
	keyNetworks string // prefix + ":networks"
	priceChan   string
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, priceChan string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "gasfeed"
	}
	if strings.TrimSpace(priceChan) == "" {
		priceChan = prefix + ":prices:pub"
	}
	return &Repo{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		keyLatest:   prefix + ":latest",
		keyNetworks: prefix + ":networks",
		priceChan:   priceChan,
	}
}

func (r *Repo) historyKey(network string) string {
	return r.prefix + ":history:" + network
}

// Append 同一毫秒只保留最后写入的一条，乱序样本照常写入
func (r *Repo) Append(ctx context.Context, s domain.PriceSample) error {
	member, err := encode(s)
	if err != nil {
		return err
	}
	key := r.historyKey(s.Network)
	ms := strconv.FormatInt(s.ObservedAt.UnixMilli(), 10)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, ms, ms)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(s.ObservedAt.UnixMilli()), Member: member})
		pipe.SAdd(ctx, r.keyNetworks, s.Network)
		return nil
	})
	if err != nil {
		return err
	}

	b, _ := json.Marshal(s)
	return r.rdb.Publish(ctx, r.priceChan, string(b)).Err()
}

func (r *Repo) Query(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	members, err := r.rdb.ZRangeByScore(ctx, r.historyKey(network), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PriceSample, 0, len(members))
	for _, m := range members {
		s, err := decode(network, m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Repo) DeleteBefore(ctx context.Context, before time.Time) error {
	networks, err := r.rdb.SMembers(ctx, r.keyNetworks).Result()
	if err != nil {
		return err
	}
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	for _, n := range networks {
		if err := r.rdb.ZRemRangeByScore(ctx, r.historyKey(n), "-inf", upper).Err(); err != nil {
			return fmt.Errorf("trim %s: %w", n, err)
		}
	}
	return nil
}

// UpsertLatest Hash: field = network -> json
func (r *Repo) UpsertLatest(ctx context.Context, s domain.PriceSample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, s.Network, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Close 客户端由 ServiceContext 统一关闭
func (r *Repo) Close() error { return nil }

// entry 集合成员；时间戳同时存于 score 与成员内
type entry struct {
	ObservedAt int64   `json:"t"`
	Source     string  `json:"source"`
	Base       string  `json:"base"`
	Priority   string  `json:"priority"`
	Max        string  `json:"max"`
	Block      *uint64 `json:"block,omitempty"`
}

func encode(s domain.PriceSample) (string, error) {
	b, err := json.Marshal(entry{
		ObservedAt: s.ObservedAt.UnixMilli(),
		Source:     s.Source,
		Base:       s.BasePrice.String(),
		Priority:   s.PriorityFee.String(),
		Max:        s.MaxFee.String(),
		Block:      s.BlockNumber,
	})
	return string(b), err
}

func decode(network, member string) (domain.PriceSample, error) {
	var e entry
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return domain.PriceSample{}, fmt.Errorf("bad history entry: %w", err)
	}
	num := func(field, v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("entry %d field %s: %w", e.ObservedAt, field, err)
		}
		return d, nil
	}
	base, err := num("base", e.Base)
	if err != nil {
		return domain.PriceSample{}, err
	}
	priority, err := num("priority", e.Priority)
	if err != nil {
		return domain.PriceSample{}, err
	}
	maxFee, err := num("max", e.Max)
	if err != nil {
		return domain.PriceSample{}, err
	}
	return domain.NewPriceSample(network, e.Source, base, priority, maxFee, e.Block, time.UnixMilli(e.ObservedAt)), nil
}

var (
	_ port.HistoryRepository = (*Repo)(nil)
	_ port.LatestMirror      = (*Repo)(nil)
)
