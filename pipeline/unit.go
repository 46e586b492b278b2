package pipeline

// AfterWrite is notified once the bytes of its unit were handed to the
// transport (err == nil), failed to be written, or were dropped because the
// connection went away (err == ErrWriteNotExecuted). written is the size of
// the unit as transmitted, which includes every fragment merged into it.
type AfterWrite func(written int64, err error)

// WriteUnit is an ordered batch of items written in one pass by the
// connection's write loop.
type WriteUnit struct {
	items []Item

	// statusLineBytes is non-zero only for the unit that begins an HTTP
	// message and holds the length of its status line.
	statusLineBytes int

	onComplete AfterWrite
}

func NewWriteUnit(items ...Item) *WriteUnit {
	return &WriteUnit{items: items}
}

// WithStatusLine marks the unit as the start of a new HTTP message whose
// status line is n bytes long.
func (u *WriteUnit) WithStatusLine(n int) *WriteUnit {
	u.statusLineBytes = n
	return u
}

// OnComplete attaches the completion callback, replacing any previous one.
func (u *WriteUnit) OnComplete(cb AfterWrite) *WriteUnit {
	u.onComplete = cb
	return u
}

func (u *WriteUnit) Append(items ...Item) {
	u.items = append(u.items, items...)
}

func (u *WriteUnit) Items() []Item { return u.items }

func (u *WriteUnit) StatusLineBytes() int { return u.statusLineBytes }

func (u *WriteUnit) HasCallback() bool { return u.onComplete != nil }

func (u *WriteUnit) Empty() bool { return len(u.items) == 0 }

// Len returns the total number of bytes across all items.
func (u *WriteUnit) Len() int64 {
	var n int64
	for _, it := range u.items {
		n += it.Len()
	}
	return n
}

// TryMerge appends the items of in to u when u carries no callback yet and in
// does not start a new message. On success u adopts the callback of in and in
// is left empty. When the merge is vetoed neither unit is modified.
func (u *WriteUnit) TryMerge(in *WriteUnit) bool {
	if u.onComplete != nil || in.statusLineBytes != 0 {
		return false
	}

	u.items = append(u.items, in.items...)
	if in.onComplete != nil {
		u.onComplete = in.onComplete
	}

	in.items = nil
	in.onComplete = nil
	return true
}

// Complete invokes the completion callback at most once.
func (u *WriteUnit) Complete(written int64, err error) {
	cb := u.onComplete
	u.onComplete = nil
	if cb != nil {
		cb(written, err)
	}
}
