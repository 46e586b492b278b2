package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/freekieb7/causeway/pipeline"
)

var (
	ErrConnClosed = errors.New("http: connection closed")

	errRequestTimeout = errors.New("http: request timed out")
	errHandlerPanic   = errors.New("http: handler panicked")
)

// incoming carries a parsed request, or the reason it could not be parsed,
// from the read loop to the owner loop.
type incoming struct {
	req *Request
	err error
}

// handoff carries one part of a response from the goroutine that produced
// it to the owner loop.
type handoff struct {
	id    pipeline.RequestID
	flags pipeline.Flags
	unit  *pipeline.WriteUnit
	abort error
}

type writeResult struct {
	n   int64
	err error
}

// conn serves one client connection. A single owner goroutine (serve) holds
// the pipeline coordinator; the read loop, the write loop and every handler
// communicate with it over channels only.
type conn struct {
	server *Server
	rwc    net.Conn
	logger *slog.Logger
	cancel context.CancelFunc

	coord *pipeline.Coordinator

	requests chan incoming
	handoffs chan handoff
	writes   chan *pipeline.WriteUnit
	written  chan writeResult
	done     chan struct{}

	// owner loop state
	inflight   map[pipeline.RequestID]*Response
	writing    bool
	readerDone bool
	stalled    bool
}

func newConn(s *Server, rwc net.Conn, cancel context.CancelFunc) *conn {
	id := uuid.New()
	return &conn{
		server: s,
		rwc:    rwc,
		cancel: cancel,
		logger: s.logger().With(
			slog.String("conn.id", id.String()),
			slog.String("remote", rwc.RemoteAddr().String()),
		),
		coord:    pipeline.NewCoordinator(s.Settings.maxPipelined()),
		requests: make(chan incoming),
		handoffs: make(chan handoff),
		writes:   make(chan *pipeline.WriteUnit, 1),
		written:  make(chan writeResult, 1),
		done:     make(chan struct{}),
		inflight: make(map[pipeline.RequestID]*Response),
	}
}

// post is called by handler goroutines. The unit's callback is reported as
// not executed if the connection is already gone.
func (c *conn) post(id pipeline.RequestID, flags pipeline.Flags, unit *pipeline.WriteUnit) error {
	select {
	case c.handoffs <- handoff{id: id, flags: flags, unit: unit}:
		return nil
	case <-c.done:
		unit.Complete(0, pipeline.ErrWriteNotExecuted)
		return ErrConnClosed
	}
}

func (c *conn) abort(id pipeline.RequestID, cause error) {
	select {
	case c.handoffs <- handoff{id: id, abort: cause}:
	case <-c.done:
	}
}

// ownerSink appends directly; it is only used from the owner goroutine.
type ownerSink struct{ c *conn }

func (o ownerSink) post(id pipeline.RequestID, flags pipeline.Flags, unit *pipeline.WriteUnit) error {
	return o.c.accept(handoff{id: id, flags: flags, unit: unit})
}

func (o ownerSink) abort(id pipeline.RequestID, cause error) {
	o.c.logger.Warn("aborting connection", slog.Uint64("request.id", uint64(id)), slog.Any("error", cause))
}

func (c *conn) serve(ctx context.Context) {
	defer c.teardown()

	connectionsActive.Add(ctx, 1)
	defer connectionsActive.Add(context.Background(), -1)

	go c.readLoop()
	go c.writeLoop()

	for !c.finished() {
		var requests <-chan incoming
		if !c.readerDone {
			if c.coord.CanAcceptRequests() {
				requests = c.requests
				c.stalled = false
			} else if !c.stalled && !c.coord.Closed() {
				c.stalled = true
				pipelineStalls.Add(ctx, 1)
			}
		}

		select {
		case in, ok := <-requests:
			if !ok {
				c.readerDone = true
				break
			}
			if err := c.dispatch(ctx, in); err != nil {
				c.logger.Error("dispatching request failed", slog.Any("error", err))
				return
			}

		case h := <-c.handoffs:
			if err := c.accept(h); err != nil {
				c.logger.Error("appending response failed", slog.Any("error", err))
				return
			}

		case res := <-c.written:
			c.writing = false
			if res.err != nil {
				c.logger.Debug("write failed", slog.Any("error", res.err))
				return
			}

		case <-ctx.Done():
			return
		}

		if err := c.pump(ctx); err != nil {
			c.logger.Error("popping response failed", slog.Any("error", err))
			return
		}
	}
}

// finished reports that the connection has nothing left to do: either a
// close-intent response went out, or the client stopped sending and every
// response was written.
func (c *conn) finished() bool {
	if c.writing {
		return false
	}
	return c.coord.Closed() || c.readerDone && c.coord.IsEmpty()
}

func (c *conn) dispatch(ctx context.Context, in incoming) error {
	id, err := c.coord.RegisterNewRequest()
	if err != nil {
		return err
	}
	in.req.ID = id
	requestsRegistered.Add(ctx, 1)
	pipelineDepth.Record(ctx, int64(c.coord.Pending()))

	if in.err != nil {
		status := statusForRequestError(in.err)
		c.logger.Debug("rejecting request", slog.Int("status", int(status)), slog.Any("error", in.err))

		in.req.KeepAlive = false
		if in.req.Proto == "" {
			in.req.Proto = protocolHTTP11
		}
		res := newResponse(in.req, ownerSink{c}, c.server.Name)
		res.WithStatus(status).WithText(StatusText(status))
		return res.Send()
	}

	res := newResponse(in.req, c, c.server.Name)
	c.inflight[id] = res
	if d := c.server.Settings.RequestTimeout; d > 0 {
		res.arm(d)
	}

	reqCtx := newRequestCtx(ctx, in.req, res, c.logger)
	go c.run(reqCtx)
	return nil
}

// run executes the handler on its own goroutine, so requests complete in
// any order while the coordinator keeps their responses ordered.
func (c *conn) run(reqCtx *RequestCtx) {
	req := reqCtx.Request
	ctx := otel.GetTextMapPropagator().Extract(reqCtx.ctx, req.Headers)
	ctx, span := tracer.Start(ctx, req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("network.protocol.version", req.Proto),
			attribute.Int64("causeway.request.id", int64(req.ID)),
		),
	)
	defer span.End()
	reqCtx.ctx = ctx

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "handler panicked")
			recoverResponse(reqCtx, r)
		}
	}()

	c.server.Handler(reqCtx)
	if reqCtx.detached {
		return
	}

	if err := reqCtx.Response.Send(); err != nil && !errors.Is(err, ErrResponseFinished) {
		reqCtx.logger.DebugContext(ctx, "sending response failed", slog.Any("error", err))
	}
	span.SetAttributes(attribute.Int("http.response.status_code", int(reqCtx.Response.StatusCode())))
}

func (c *conn) accept(h handoff) error {
	if c.coord.Closed() {
		// an earlier response ends the connection, later ones are dropped
		if h.unit != nil {
			h.unit.Complete(0, pipeline.ErrWriteNotExecuted)
		}
		return nil
	}
	if h.abort != nil {
		return fmt.Errorf("request %d: %w", h.id, h.abort)
	}

	if err := c.coord.AppendResponse(h.id, h.flags, h.unit); err != nil {
		h.unit.Complete(0, pipeline.ErrWriteNotExecuted)
		return err
	}
	if h.flags.Continuation == pipeline.Final {
		delete(c.inflight, h.id)
	}
	return nil
}

// pump hands the next ready unit to the write loop. Only one unit is in
// flight at a time; the next one is popped once its write completed.
func (c *conn) pump(ctx context.Context) error {
	if c.writing || c.coord.Closed() {
		return nil
	}

	unit, err := c.coord.PopReadyBuffers()
	if err != nil || unit == nil {
		return err
	}

	writeUnits.Add(ctx, 1)
	if unit.StatusLineBytes() > 0 {
		responsesStarted.Add(ctx, 1)
	}

	c.writing = true
	c.writes <- unit
	return nil
}

func (c *conn) readLoop() {
	defer close(c.requests)

	reader := bufio.NewReaderSize(c.rwc, DefaultReadBufferSize)
	limits := Limits{
		MaxHeaderBytes: c.server.Settings.MaxHeaderBytes,
		MaxBodyBytes:   c.server.Settings.MaxBodyBytes,
	}

	for first := true; ; first = false {
		if !c.setReadDeadline(first) {
			return
		}

		req := &Request{RemoteAddr: c.rwc.RemoteAddr().String()}
		err := req.Read(reader, limits)
		if err != nil && !isRequestError(err) {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("reading request failed", slog.Any("error", err))
			}
			return
		}

		select {
		case c.requests <- incoming{req: req, err: err}:
		case <-c.done:
			return
		}

		if err != nil || !req.KeepAlive {
			return
		}
	}
}

// setReadDeadline arms the idle or header timeout before the next request.
// It returns false once the server is shutting down.
func (c *conn) setReadDeadline(first bool) bool {
	settings := c.server.Settings

	var d time.Duration
	switch {
	case !first && settings.IdleTimeout > 0:
		d = settings.IdleTimeout
	case settings.ReadHeaderTimeout > 0:
		d = settings.ReadHeaderTimeout
	}

	if d > 0 {
		_ = c.rwc.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.rwc.SetReadDeadline(time.Time{})
	}
	return !c.server.shuttingDown()
}

// stopReading makes a blocked read return so no further request is taken.
func (c *conn) stopReading() {
	_ = c.rwc.SetReadDeadline(time.Now())
}

func (c *conn) writeLoop() {
	for unit := range c.writes {
		if d := c.server.Settings.WriteTimeout; d > 0 {
			_ = c.rwc.SetWriteDeadline(time.Now().Add(d))
		}

		n, err := writeUnit(c.rwc, unit)
		bytesWritten.Add(context.Background(), n)
		unit.Complete(n, err)
		c.written <- writeResult{n: n, err: err}
	}
}

func (c *conn) teardown() {
	_ = c.rwc.Close()
	close(c.done)
	close(c.writes)
	c.cancel()

	if !c.coord.IsEmpty() {
		connectionsAborted.Add(context.Background(), 1,
			metric.WithAttributes(attribute.Int("pending", c.coord.Pending())))
	}
	c.coord.Reset()

	for id, res := range c.inflight {
		res.cancel()
		delete(c.inflight, id)
	}
}
