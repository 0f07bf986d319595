package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// Static 配置文件中的对象特征表
type Static map[string]domain.Characteristics

var _ port.CharacteristicsLookup = Static(nil)

func (s Static) Characteristics(_ context.Context, id string) (domain.Characteristics, bool, error) {
	c, ok := s[id]
	return c, ok, nil
}

// PetStore 从 pets 表读取品种、体重与活跃度
type PetStore struct {
	db *sql.DB
}

var _ port.CharacteristicsLookup = (*PetStore)(nil)

func NewPetStore(db *sql.DB) *PetStore {
	return &PetStore{db: db}
}

func (p *PetStore) Characteristics(ctx context.Context, id string) (domain.Characteristics, bool, error) {
	var (
		breed    sql.NullString
		weight   decimal.NullDecimal
		activity decimal.NullDecimal
	)
	err := p.db.QueryRowContext(ctx, `SELECT breed, weight, activity_level FROM pets WHERE id = $1`, id).
		Scan(&breed, &weight, &activity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pet %s: %w", id, err)
	}

	chars := domain.Characteristics{}
	if breed.Valid && breed.String != "" {
		chars["breed"] = breed.String
	}
	if weight.Valid {
		chars["weight"] = weight.Decimal
	}
	if activity.Valid {
		chars["activity"] = activity.Decimal
	}
	return chars, true, nil
}

// Chain 依次查询，第一个命中者生效；错误立即返回
type Chain []port.CharacteristicsLookup

var _ port.CharacteristicsLookup = Chain(nil)

func (c Chain) Characteristics(ctx context.Context, id string) (domain.Characteristics, bool, error) {
	for _, l := range c {
		if l == nil {
			continue
		}
		chars, found, err := l.Characteristics(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if found {
			return chars, true, nil
		}
	}
	return nil, false, nil
}
