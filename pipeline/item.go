package pipeline

import (
	"os"
	"time"
)

// Kind tells how an Item is transmitted.
type Kind uint8

const (
	KindBytes Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Item is a single piece of response output: either an in-memory byte range
// or a segment of an open file to be sent without copying through user space.
// Items are immutable once constructed.
type Item struct {
	kind Kind

	buf []byte

	file    *os.File
	offset  int64
	length  int64
	modTime time.Time
}

// Bytes wraps b without copying. The caller must not modify b afterwards.
func Bytes(b []byte) Item {
	return Item{kind: KindBytes, buf: b}
}

func String(s string) Item {
	return Item{kind: KindBytes, buf: []byte(s)}
}

// FileSegment describes length bytes of f starting at offset.
func FileSegment(f *os.File, offset, length int64, modTime time.Time) Item {
	return Item{
		kind:    KindFile,
		file:    f,
		offset:  offset,
		length:  length,
		modTime: modTime,
	}
}

func (it Item) Kind() Kind { return it.kind }

// Len is the number of bytes the item puts on the wire.
func (it Item) Len() int64 {
	if it.kind == KindFile {
		return it.length
	}
	return int64(len(it.buf))
}

// Buf returns the byte range of a KindBytes item.
func (it Item) Buf() []byte { return it.buf }

// File returns the file, offset and length of a KindFile item.
func (it Item) File() (*os.File, int64, int64) { return it.file, it.offset, it.length }

func (it Item) ModTime() time.Time { return it.modTime }
