package broker

import "simbroker/internal/domain"

// notifyQueue is the FIFO of order snapshots and step boundaries.
type notifyQueue struct {
	items []domain.Notification
}

// push stores a clone of o so later mutations of the live order do not leak
// into delivered notifications.
func (q *notifyQueue) push(o *domain.Order) {
	q.items = append(q.items, domain.Notification{Order: o.Clone()})
}

func (q *notifyQueue) boundary(step int) {
	q.items = append(q.items, domain.Notification{Boundary: true, Step: step})
}

func (q *notifyQueue) pop() (domain.Notification, bool) {
	if len(q.items) == 0 {
		return domain.Notification{}, false
	}
	n := q.items[0]
	q.items[0] = domain.Notification{}
	q.items = q.items[1:]
	return n, true
}

func (q *notifyQueue) len() int { return len(q.items) }
