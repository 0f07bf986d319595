package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
	"gasfeed/internal/infrastructure/metrics"
)

// TopicIndex 订阅关系的只读视图
type TopicIndex interface {
	TopicsFor(network string) []domain.Topic
	MembersOf(topic domain.Topic) []string
}

// PublishReport 一次发布的统计
type PublishReport struct {
	Topics    int
	Delivered int
	Closed    int
	Slow      int
	Failed    int
}

// Broadcaster 把网络的新样本推送给该网络的所有主题订阅者
type Broadcaster struct {
	index     TopicIndex
	pricer    *Pricer
	deliverer port.Deliverer
}

func NewBroadcaster(index TopicIndex, pricer *Pricer, deliverer port.Deliverer) *Broadcaster {
	return &Broadcaster{index: index, pricer: pricer, deliverer: deliverer}
}

// Publish 每个主题只计算一次价格；单个连接投递失败不影响其他连接
func (b *Broadcaster) Publish(ctx context.Context, network string, sample domain.PriceSample) PublishReport {
	var rep PublishReport
	for _, topic := range b.index.TopicsFor(network) {
		members := b.index.MembersOf(topic)
		if len(members) == 0 {
			continue
		}
		rep.Topics++

		update := domain.NewPriceUpdate(topic, sample, b.pricer.Price(ctx, topic, sample))
		for _, connID := range members {
			err := b.deliverer.Deliver(connID, update)
			switch {
			case err == nil:
				rep.Delivered++
				metrics.Deliveries.WithLabelValues(network, "ok").Inc()
			case errors.Is(err, domain.ErrConnectionClosed):
				rep.Closed++
				metrics.Deliveries.WithLabelValues(network, "closed").Inc()
			case errors.Is(err, domain.ErrSlowConsumer):
				rep.Slow++
				metrics.Deliveries.WithLabelValues(network, "slow").Inc()
				log.Warn().Str("conn", connID).Str("topic", topic.String()).Msg("slow consumer, update dropped")
			default:
				rep.Failed++
				metrics.Deliveries.WithLabelValues(network, "error").Inc()
				log.Error().Err(err).Str("conn", connID).Str("topic", topic.String()).Msg("delivery failed")
			}
		}
	}
	return rep
}
