package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func itemsText(u *WriteUnit) string {
	var s string
	for _, it := range u.Items() {
		s += string(it.Buf())
	}
	return s
}

func TestTryMerge_PlainUnits(t *testing.T) {
	a := NewWriteUnit(String("a"), String("b"))
	b := NewWriteUnit(String("c"))

	require.True(t, a.TryMerge(b))
	require.Equal(t, "abc", itemsText(a))
	require.Len(t, a.Items(), 3)
	require.True(t, b.Empty())
}

func TestTryMerge_StatusLineStartsNewMessage(t *testing.T) {
	a := NewWriteUnit(String("body"))
	b := NewWriteUnit(String("HTTP/1.1 200 OK\r\n")).WithStatusLine(17)

	require.False(t, a.TryMerge(b))
	require.Equal(t, "body", itemsText(a))
	require.Equal(t, 17, b.StatusLineBytes())
	require.Len(t, b.Items(), 1)
}

func TestTryMerge_CallbackSealsUnit(t *testing.T) {
	var calls int
	a := NewWriteUnit(String("a")).OnComplete(func(int64, error) { calls++ })
	b := NewWriteUnit(String("b"))

	require.False(t, a.TryMerge(b))
	require.Len(t, a.Items(), 1)
	require.Len(t, b.Items(), 1)
	require.Zero(t, calls)
}

func TestTryMerge_AdoptsIncomingCallback(t *testing.T) {
	var got int64
	a := NewWriteUnit(String("HTTP/1.1 200 OK\r\n")).WithStatusLine(17)
	b := NewWriteUnit(String("abc")).OnComplete(func(n int64, err error) {
		require.NoError(t, err)
		got = n
	})

	require.True(t, a.TryMerge(b))
	require.True(t, a.HasCallback())
	require.False(t, b.HasCallback())
	require.Equal(t, 17, a.StatusLineBytes())

	a.Complete(a.Len(), nil)
	require.Equal(t, int64(20), got)
}

func TestComplete_InvokesOnce(t *testing.T) {
	var calls int
	u := NewWriteUnit(String("x")).OnComplete(func(int64, error) { calls++ })

	u.Complete(1, nil)
	u.Complete(1, nil)
	require.Equal(t, 1, calls)
}

func TestItem_Len(t *testing.T) {
	require.Equal(t, int64(3), String("abc").Len())
	require.Equal(t, KindBytes, Bytes(nil).Kind())

	seg := FileSegment(nil, 10, 4096, time.Time{})
	require.Equal(t, KindFile, seg.Kind())
	require.Equal(t, int64(4096), seg.Len())

	u := NewWriteUnit(String("abc"), seg)
	require.Equal(t, int64(4099), u.Len())
}
