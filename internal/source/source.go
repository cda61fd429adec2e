// Package source holds the two change detection strategies. Both produce the
// same normalized stream of order change events; the propagation engine owns
// exactly one of them at a time.
package source

import (
	"github.com/orderwatch/orderwatch/internal/order"
)

// Source produces a sequence of normalized change events. Start returns once
// event production is running; events arrive on the onEvent callback, which
// must return quickly and never block on a subscriber. Stop is safe to call
// concurrently with an in-flight event and no event is produced after it
// returns.
type Source interface {
	Start(onEvent func(order.ChangeEvent)) error
	Stop()
}
