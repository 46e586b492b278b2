package pipeline

import "fmt"

// Coordinator orders the responses of one connection. It must only be used
// from the goroutine that owns the connection.
type Coordinator struct {
	table  SlotTable
	nextID RequestID
	closed bool
}

// NewCoordinator tracks at most maxPipelined requests at a time.
func NewCoordinator(maxPipelined int) *Coordinator {
	return &Coordinator{table: NewSlotTable(maxPipelined)}
}

// Closed reports that a response carrying close intent was fully drained.
// It never becomes false again.
func (c *Coordinator) Closed() bool { return c.closed }

func (c *Coordinator) IsEmpty() bool { return c.table.IsEmpty() }

func (c *Coordinator) IsFull() bool { return c.table.IsFull() }

// Pending returns the number of registered requests not yet fully written.
func (c *Coordinator) Pending() int { return c.table.Len() }

// CanAcceptRequests tells ingestion whether another request may be read.
func (c *Coordinator) CanAcceptRequests() bool {
	return !c.closed && !c.table.IsFull()
}

// RegisterNewRequest reserves a slot for the next request on the connection.
// It fails with ErrCapacityExhausted while maxPipelined requests are pending;
// the caller has to stop reading requests until a response was written.
func (c *Coordinator) RegisterNewRequest() (RequestID, error) {
	if c.closed {
		return 0, ErrCoordinatorClosed
	}
	if c.table.IsFull() {
		return 0, ErrCapacityExhausted
	}

	id := c.nextID
	if _, err := c.table.PushBack(id); err != nil {
		return 0, err
	}
	c.nextID++
	return id, nil
}

// AppendResponse queues u as the next part of the response to request id.
func (c *Coordinator) AppendResponse(id RequestID, flags Flags, u *WriteUnit) error {
	if c.closed {
		return ErrCoordinatorClosed
	}
	if u == nil || u.Empty() {
		return fmt.Errorf("%w: request %d", ErrEmptyWriteUnit, id)
	}

	slot := c.table.GetByID(id)
	if slot == nil {
		return fmt.Errorf("%w: request %d", ErrUnknownRequest, id)
	}

	if err := slot.Append(flags, u); err != nil {
		return fmt.Errorf("%w: request %d", err, id)
	}
	return nil
}

// PopReadyBuffers returns the next unit of the oldest pending response, or
// nil when that response has nothing queued yet. Only one unit is returned
// per call. A response that is drained by the pop is evicted; if it asked
// for the connection to be closed the coordinator becomes closed.
func (c *Coordinator) PopReadyBuffers() (*WriteUnit, error) {
	if c.closed {
		return nil, ErrCoordinatorClosed
	}

	front, err := c.table.Front()
	if err != nil {
		return nil, nil
	}

	u := front.PopFrontUnit()
	if u == nil {
		return nil, nil
	}

	if front.IsDrained() {
		closeIntent := front.CloseIntent()
		if err := c.table.PopFront(); err != nil {
			return nil, err
		}
		if closeIntent {
			c.closed = true
		}
	}
	return u, nil
}

// Reset cancels every queued unit, oldest request first, reporting
// ErrWriteNotExecuted to their callbacks, and empties the table. It is
// called once when the connection is torn down.
func (c *Coordinator) Reset() {
	c.table.each(func(s *Slot) {
		s.cancel()
	})
	for !c.table.IsEmpty() {
		_ = c.table.PopFront()
	}
}
