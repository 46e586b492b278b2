package http

import (
	"fmt"
	"io"
	"net"

	"github.com/freekieb7/causeway/pipeline"
)

// writeUnit writes the items of unit to w in order. Runs of in-memory items
// go out with a single vectored write; file segments are copied with
// io.Copy so a TCP connection can use sendfile.
func writeUnit(w io.Writer, unit *pipeline.WriteUnit) (int64, error) {
	var (
		total int64
		bufs  net.Buffers
	)

	flush := func() error {
		if len(bufs) == 0 {
			return nil
		}
		n, err := bufs.WriteTo(w)
		total += n
		bufs = bufs[:0]
		return err
	}

	for _, it := range unit.Items() {
		switch it.Kind() {
		case pipeline.KindBytes:
			if it.Len() > 0 {
				bufs = append(bufs, it.Buf())
			}
		case pipeline.KindFile:
			if err := flush(); err != nil {
				return total, err
			}
			n, err := sendFile(w, it)
			total += n
			if err != nil {
				return total, err
			}
		}
	}

	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func sendFile(w io.Writer, it pipeline.Item) (int64, error) {
	f, offset, length := it.File()
	if length == 0 {
		return 0, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking %s: %w", f.Name(), err)
	}

	n, err := io.Copy(w, io.LimitReader(f, length))
	if err != nil {
		return n, err
	}
	if n < length {
		return n, fmt.Errorf("%s: %w", f.Name(), io.ErrUnexpectedEOF)
	}
	return n, nil
}
