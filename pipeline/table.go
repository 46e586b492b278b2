package pipeline

import "fmt"

// SlotTable is a fixed capacity ring of slots addressed by request id. The
// ids held by the table always form the contiguous range
// [frontID, frontID+size).
type SlotTable struct {
	slots   []Slot
	first   int
	size    int
	frontID RequestID
}

func NewSlotTable(capacity int) SlotTable {
	if capacity < 1 {
		panic("pipeline: slot table capacity must be positive")
	}
	return SlotTable{slots: make([]Slot, capacity)}
}

func (t *SlotTable) Len() int      { return t.size }
func (t *SlotTable) Cap() int      { return len(t.slots) }
func (t *SlotTable) IsEmpty() bool { return t.size == 0 }
func (t *SlotTable) IsFull() bool  { return t.size == len(t.slots) }

// PushBack allocates an empty slot for id at the back of the ring. On a non
// empty table id must be the successor of the back slot's id.
func (t *SlotTable) PushBack(id RequestID) (*Slot, error) {
	if t.IsFull() {
		return nil, ErrTableFull
	}

	if t.size == 0 {
		if id < t.frontID {
			return nil, fmt.Errorf("%w: got %d, window starts at %d", ErrNonSequentialID, id, t.frontID)
		}
		t.frontID = id
	} else if next := t.frontID + RequestID(t.size); id != next {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNonSequentialID, id, next)
	}

	s := &t.slots[t.index(t.size)]
	s.reinit(id)
	t.size++
	return s, nil
}

// PopFront removes the oldest slot whether or not it is drained.
func (t *SlotTable) PopFront() error {
	if t.size == 0 {
		return ErrTableEmpty
	}

	t.slots[t.first].reinit(0)
	t.first++
	if t.first == len(t.slots) {
		t.first = 0
	}
	t.size--
	t.frontID++
	return nil
}

// GetByID returns the slot for id, or nil when id is outside the live window.
func (t *SlotTable) GetByID(id RequestID) *Slot {
	if t.size == 0 || id < t.frontID {
		return nil
	}

	d := id - t.frontID
	if d >= RequestID(t.size) {
		return nil
	}
	return &t.slots[t.index(int(d))]
}

func (t *SlotTable) Front() (*Slot, error) {
	if t.size == 0 {
		return nil, ErrTableEmpty
	}
	return &t.slots[t.first], nil
}

func (t *SlotTable) Back() (*Slot, error) {
	if t.size == 0 {
		return nil, ErrTableEmpty
	}
	return &t.slots[t.index(t.size-1)], nil
}

// each visits live slots from front to back.
func (t *SlotTable) each(fn func(s *Slot)) {
	for i := 0; i < t.size; i++ {
		fn(&t.slots[t.index(i)])
	}
}

func (t *SlotTable) index(offset int) int {
	return (t.first + offset) % len(t.slots)
}
