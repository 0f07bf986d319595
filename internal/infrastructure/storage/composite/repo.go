package composite

import (
	"context"
	"time"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// Repo 写入扇出到所有后端，查询只走第一个（主）后端
type Repo struct {
	repos []port.HistoryRepository
}

var _ port.HistoryRepository = (*Repo)(nil)

func New(repos ...port.HistoryRepository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.HistoryRepository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

// Len 返回后端数量
func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) Append(ctx context.Context, s domain.PriceSample) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Append(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Query(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	if len(r.repos) == 0 {
		return []domain.PriceSample{}, nil
	}
	return r.repos[0].Query(ctx, network, from, to)
}

func (r *Repo) DeleteBefore(ctx context.Context, before time.Time) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.DeleteBefore(ctx, before); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
