package engine

import (
	"tick_book/internal/event"
	"tick_book/pkg/quant"
	"tick_book/pkg/safe"
)

// ResidentOrder is an order currently outstanding in a Book.
// It is linked into exactly one PriceLevel queue while resident.
type ResidentOrder struct {
	ID        uint64            `json:"id"`
	Side      event.Side        `json:"side"`
	Price     quant.PriceMicros `json:"price"`
	Remaining quant.Qty         `json:"remaining"`
	InsertSeq uint64            `json:"insert_seq"`

	level *PriceLevel
	prev  *ResidentOrder
	next  *ResidentOrder
}

// PriceLevel is a FIFO queue of resident orders at one price on one side.
type PriceLevel struct {
	Price  quant.PriceMicros
	Volume quant.Qty
	Count  int

	head *ResidentOrder
	tail *ResidentOrder
}

func (p *PriceLevel) enqueue(o *ResidentOrder) {
	o.level = p
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.Volume = quant.Qty(safe.SafeAdd(int64(p.Volume), int64(o.Remaining)))
	p.Count++
}

// remove unlinks o and subtracts its remaining volume from the aggregate.
func (p *PriceLevel) remove(o *ResidentOrder) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.prev = nil
	o.next = nil
	o.level = nil

	p.Volume -= o.Remaining
	p.Count--
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head returns the oldest resident order at this price.
func (p *PriceLevel) Head() *ResidentOrder {
	return p.head
}

// Each walks the queue in FIFO order until fn returns false.
func (p *PriceLevel) Each(fn func(o *ResidentOrder) bool) {
	for o := p.head; o != nil; o = o.next {
		if !fn(o) {
			return
		}
	}
}

// OrderIDs returns the queue as ids, oldest first.
func (p *PriceLevel) OrderIDs() []uint64 {
	ids := make([]uint64, 0, p.Count)
	p.Each(func(o *ResidentOrder) bool {
		ids = append(ids, o.ID)
		return true
	})
	return ids
}
