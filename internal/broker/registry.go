package broker

import (
	"fmt"
	"sort"

	"simbroker/internal/domain"
)

// registry is the single id-keyed store of every order the broker created.
type registry struct {
	orders  map[uint64]*domain.Order
	lastRef uint64
}

func newRegistry() *registry {
	return &registry{orders: make(map[uint64]*domain.Order)}
}

// register assigns the next ref to o and stores it.
func (r *registry) register(o *domain.Order) {
	r.lastRef++
	o.Ref = r.lastRef
	r.orders[o.Ref] = o
}

func (r *registry) get(ref uint64) (*domain.Order, error) {
	o, ok := r.orders[ref]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", ref, ErrUnknownOrder)
	}
	return o, nil
}

// alive returns the non-terminal orders in ref order.
func (r *registry) alive() []*domain.Order {
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Alive() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

func (r *registry) len() int { return len(r.orders) }
