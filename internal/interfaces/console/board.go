package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"gasfeed/internal/application/service"
	"gasfeed/internal/domain"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type direction int

const (
	dirFlat direction = iota
	dirUp
	dirDown
)

type cell struct {
	seen      bool
	aggregate decimal.Decimal
	source    string
	dir       direction
	delivered int
}

// Board 包装 Publisher，每次发布后在终端重画一行各网络最新价格
type Board struct {
	inner    service.Publisher
	out      io.Writer
	networks []string

	mu    sync.Mutex
	cells map[string]*cell
}

var _ service.Publisher = (*Board)(nil)

func NewBoard(inner service.Publisher, networks []string, out io.Writer) *Board {
	cells := make(map[string]*cell, len(networks))
	for _, n := range networks {
		cells[n] = &cell{}
	}
	return &Board{inner: inner, out: out, networks: networks, cells: cells}
}

func (b *Board) Publish(ctx context.Context, network string, sample domain.PriceSample) service.PublishReport {
	rep := b.inner.Publish(ctx, network, sample)

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cells[network]
	if !ok {
		return rep
	}
	agg := sample.Aggregate()
	switch {
	case !c.seen:
		c.dir = dirFlat
	case agg.GreaterThan(c.aggregate):
		c.dir = dirUp
	case agg.LessThan(c.aggregate):
		c.dir = dirDown
	default:
		c.dir = dirFlat
	}
	c.seen = true
	c.aggregate = agg
	c.source = sample.Source
	c.delivered = rep.Delivered

	fmt.Fprint(b.out, b.render(true))
	return rep
}

// Render 返回当前看板（非 live 模式，不含回车）
func (b *Board) Render() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.render(false)
}

func (b *Board) render(live bool) string {
	var sb strings.Builder
	if live {
		sb.WriteString("\r")
	}
	sb.WriteString(colorize("[GASFEED] ", ansiDim))

	for i, n := range b.networks {
		if i > 0 {
			sb.WriteString(colorize("  ||  ", ansiDim))
		}
		c := b.cells[n]

		price := "--"
		col := ansiYellow
		if c.seen {
			price = c.aggregate.StringFixed(2)
			switch c.dir {
			case dirUp:
				col = ansiGreen
			case dirDown:
				col = ansiRed
			}
		}
		sb.WriteString(n)
		sb.WriteString(" ")
		sb.WriteString(colorize(price, col))
		if c.seen {
			sb.WriteString(colorize(fmt.Sprintf(" (%s, %d sent)", c.source, c.delivered), ansiDim))
		}
	}

	if live {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}
