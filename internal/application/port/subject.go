package port

import (
	"context"

	"gasfeed/internal/domain"
)

// CharacteristicsLookup resolves a subject id to its characteristics.
// found=false means no adjustment.
type CharacteristicsLookup interface {
	Characteristics(ctx context.Context, subjectID string) (chars domain.Characteristics, found bool, err error)
}
