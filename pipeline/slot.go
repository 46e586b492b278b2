package pipeline

// Continuation tells whether more units follow for a response.
type Continuation uint8

const (
	Partial Continuation = iota
	Final
)

// ConnectionAttr tells whether the connection survives the response.
type ConnectionAttr uint8

const (
	KeepAlive ConnectionAttr = iota
	Close
)

// Flags accompany every unit appended to a response.
type Flags struct {
	Continuation Continuation
	Connection   ConnectionAttr
}

// RequestID is the position of a request in the pipeline of a connection.
type RequestID uint64

// Slot accumulates the not yet written units of a single response.
type Slot struct {
	id RequestID

	// queue[head:] holds the pending units, oldest first.
	queue []*WriteUnit
	head  int

	completed   bool
	closeIntent bool
}

func (s *Slot) reinit(id RequestID) {
	for i := range s.queue {
		s.queue[i] = nil
	}
	s.id = id
	s.queue = s.queue[:0]
	s.head = 0
	s.completed = false
	s.closeIntent = false
}

func (s *Slot) RequestID() RequestID { return s.id }

// Append queues u, merging it into the last queued unit when allowed.
func (s *Slot) Append(flags Flags, u *WriteUnit) error {
	if u == nil || u.Empty() {
		return ErrEmptyWriteUnit
	}
	if s.completed {
		return ErrResponseFinished
	}

	if n := len(s.queue); n == s.head || !s.queue[n-1].TryMerge(u) {
		s.queue = append(s.queue, u)
	}

	if flags.Continuation == Final {
		s.completed = true
	}
	if flags.Connection == Close {
		s.closeIntent = true
	}
	return nil
}

// PopFrontUnit dequeues the oldest unit or returns nil.
func (s *Slot) PopFrontUnit() *WriteUnit {
	if s.head == len(s.queue) {
		return nil
	}

	u := s.queue[s.head]
	s.queue[s.head] = nil
	s.head++
	if s.head == len(s.queue) {
		s.queue = s.queue[:0]
		s.head = 0
	}
	return u
}

func (s *Slot) Queued() int { return len(s.queue) - s.head }

func (s *Slot) Completed() bool { return s.completed }

// CloseIntent reports whether any appended unit asked to close the connection.
func (s *Slot) CloseIntent() bool { return s.closeIntent }

// IsDrained reports that the final unit was appended and everything was popped.
func (s *Slot) IsDrained() bool {
	return s.completed && s.Queued() == 0
}

func (s *Slot) cancel() {
	for _, u := range s.queue[s.head:] {
		u.Complete(0, ErrWriteNotExecuted)
	}
	s.reinit(s.id)
}
