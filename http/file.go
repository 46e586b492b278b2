package http

import (
	"errors"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/freekieb7/causeway/filesystem"
)

// FileHandler serves the files below root for request paths starting with
// prefix. File contents are not copied into memory; they are written to the
// connection straight from the file.
func FileHandler(root *filesystem.Root, prefix string) Handler {
	return func(ctx *RequestCtx) {
		req, res := ctx.Request, ctx.Response

		if req.Method != "GET" && req.Method != "HEAD" {
			res.WithHeader("Allow", "GET, HEAD")
			res.WithStatus(StatusMethodNotAllowed).WithText(StatusText(StatusMethodNotAllowed))
			return
		}

		name, ok := strings.CutPrefix(req.Path, prefix)
		if !ok {
			NotFoundHandler(ctx)
			return
		}
		if name == "" || strings.HasSuffix(name, "/") {
			name += "index.html"
		}

		f, info, err := root.Open(name)
		if err != nil {
			switch {
			case errors.Is(err, filesystem.ErrFileNotFound), errors.Is(err, filesystem.ErrInvalidPath):
				NotFoundHandler(ctx)
			default:
				ctx.Logger().ErrorContext(ctx.Context(), "opening file failed", slog.String("path", name), slog.Any("error", err))
				res.WithStatus(StatusInternalServerError).WithText(StatusText(StatusInternalServerError))
			}
			return
		}

		modTime := info.ModTime().UTC().Truncate(time.Second)
		res.WithHeader("Last-Modified", modTime.Format(TimeFormat))

		if since, err := time.Parse(TimeFormat, req.Header("If-Modified-Since")); err == nil && !modTime.After(since) {
			_ = f.Close()
			res.WithStatus(StatusNotModified)
			return
		}

		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			res.WithHeader("Content-Type", ct)
		} else {
			res.WithHeader("Content-Type", "application/octet-stream")
		}

		// for HEAD only the length is used; the file is closed unread
		res.WithFile(f, 0, info.Size(), modTime)
	}
}
