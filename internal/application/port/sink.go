package port

import "gasfeed/internal/domain"

// Deliverer pushes an update to one live connection. It must not block.
type Deliverer interface {
	Deliver(connID string, update domain.PriceUpdate) error
}
