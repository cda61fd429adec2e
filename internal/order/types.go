package order

import (
	"time"
)

// Operation classifies a mutation observed on the order collection.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Order is the unit of change. Its ID is stable across updates; UpdatedAt is
// stamped by the store on every write and is never trusted from caller input.
type Order struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customer_name"`
	ProductName  string    `json:"product_name"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy of the order so consumers can hold a snapshot without
// racing the store's own copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// ChangeEvent is the normalized event shape both change sources produce. It
// always carries a full post-change snapshot, never a partial diff; for a
// DELETE, Data is the last known snapshot before removal.
type ChangeEvent struct {
	Operation Operation `json:"operation"`
	ID        string    `json:"id"`
	Data      *Order    `json:"data,omitempty"`
}
