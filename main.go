package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/freekieb7/causeway/config"
	"github.com/freekieb7/causeway/filesystem"
	"github.com/freekieb7/causeway/http"
	"github.com/freekieb7/causeway/telemetry"
)

const name = "github.com/freekieb7/causeway"

var (
	tracer  = otel.Tracer(name)
	meter   = otel.Meter(name)
	logger  = otelslog.NewLogger(name)
	rollCnt metric.Int64Counter
)

func init() {
	var err error
	rollCnt, err = meter.Int64Counter("dice.rolls",
		metric.WithDescription("The number of rolls by roll value"),
		metric.WithUnit("{roll}"))
	if err != nil {
		panic(err)
	}
}

func main() {
	configPath := flag.String("config", "causeway.toml", "path to the TOML configuration file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		log.Fatalln(err)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Printf("shutting down telemetry: %v", err)
		}
	}()

	router := http.NewRouter()
	router.Middleware = append(router.Middleware, http.RecoverMiddleware(), http.LoggingMiddleware(logger))

	router.GET("/", func(ctx *http.RequestCtx) {
		ctx.Response.WithText("hello world")
	})

	router.GET("/roll", func(ctx *http.RequestCtx) {
		spanCtx, span := tracer.Start(ctx.Context(), "roll")
		defer span.End()

		roll := 1 + rand.Intn(6)
		logger.InfoContext(spanCtx, "Anonymous player is rolling the dice", "result", roll)

		rollValueAttr := attribute.Int("roll.value", roll)
		span.SetAttributes(rollValueAttr)
		rollCnt.Add(spanCtx, 1, metric.WithAttributes(rollValueAttr))

		ctx.Response.WithText(strconv.Itoa(roll) + "\n")
	})

	// Answers after a random delay, so pipelined requests complete out of order
	router.GET("/slow", func(ctx *http.RequestCtx) {
		ctx.Detach()
		delay := time.Duration(rand.Intn(200)) * time.Millisecond

		time.AfterFunc(delay, func() {
			ctx.Response.WithJson(map[string]any{"delay_ms": delay.Milliseconds()})
			if err := ctx.Response.Send(); err != nil {
				logger.WarnContext(ctx.Context(), "sending delayed response failed", "error", err)
			}
		})
	})

	router.GET("/stream", func(ctx *http.RequestCtx) {
		for i := range 5 {
			ctx.Response.WithText("tick " + strconv.Itoa(i) + "\n")
			if err := ctx.Response.Flush(); err != nil {
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	})

	router.Group("/v1", func(group *http.Router) {
		group.GET("/status", func(ctx *http.RequestCtx) {
			ctx.Response.WithJson(map[string]string{"status": "ok"})
		})
	})

	if cfg.Static.Dir != "" {
		root, err := filesystem.NewRoot(cfg.Static.Dir)
		if err != nil {
			return err
		}
		defer root.Close()

		router.NotFound = http.FileHandler(root, cfg.Static.Prefix)
	}

	server := http.NewServer(cfg.Name, router.Handler())
	server.Settings = cfg.Server
	server.Logger = logger

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.ListenAndServe(gctx, cfg.Server.Addr)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	})

	return g.Wait()
}
