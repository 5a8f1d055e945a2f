// Package dispatch fans a message out to a recipient list, one send at a
// time, with fixed spacing between attempts.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/infodancer/relayd/internal/identity"
	"github.com/infodancer/relayd/internal/logging"
	"github.com/infodancer/relayd/internal/metrics"
	"github.com/infodancer/relayd/internal/transport"
)

// Job is a single dispatch request.
type Job struct {
	ID         string
	Message    string
	Recipients []string
	Invoker    identity.Identity
	// Lease, when set, is extended after every send.
	Lease Lease
}

// Result summarizes a dispatch.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Progress is reported to the progress hook while a job runs.
type Progress struct {
	Done  int
	Total int
	Result
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// Config holds the settings and dependencies of an Engine.
type Config struct {
	Sender        transport.Sender
	Interval      time.Duration     // minimum spacing between send attempts
	SendTimeout   time.Duration     // per-send deadline; zero disables
	ProgressEvery int               // report every N sends; zero disables
	Clock         Clock             // nil → SystemClock
	Collector     metrics.Collector // nil → NoopCollector
	Redactor      logging.Redactor
	Logger        *slog.Logger // nil → slog.Default()
}

// Engine sends messages sequentially. Consecutive attempts across all jobs
// are at least Interval apart.
type Engine struct {
	sender        transport.Sender
	sendTimeout   time.Duration
	progressEvery int
	interval      time.Duration
	limiter       *rate.Limiter
	clock         Clock
	collector     metrics.Collector
	redactor      logging.Redactor
	logger        *slog.Logger

	mu   sync.Mutex
	next time.Time // earliest start of the next attempt
}

// New creates an Engine.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Engine{
		sender:        cfg.Sender,
		sendTimeout:   cfg.SendTimeout,
		progressEvery: cfg.ProgressEvery,
		interval:      cfg.Interval,
		limiter:       rate.NewLimiter(limit, 1),
		clock:         clock,
		collector:     collector,
		redactor:      cfg.Redactor,
		logger:        logger,
	}
}

// Run attempts every recipient of job in order. A failed send is logged and
// counted; it never stops the loop. Run returns an error only when ctx is
// canceled, together with the partial result.
func (e *Engine) Run(ctx context.Context, job Job, onProgress ProgressFunc) (Result, error) {
	logger := logging.WithJob(e.logger, job.ID)
	if !job.Invoker.IsZero() {
		logger = logging.WithIdentity(logger, job.Invoker.String())
	}

	total := len(job.Recipients)
	logger.Info("dispatch started", slog.Int("recipients", total))

	var res Result
	for i, addr := range job.Recipients {
		if err := e.wait(ctx); err != nil {
			logger.Warn("dispatch canceled",
				slog.Int("attempted", res.Attempted),
				slog.Int("remaining", total-i))
			return res, err
		}

		res.Attempted++
		if e.send(ctx, logger, addr, job.Message) {
			res.Succeeded++
		} else {
			res.Failed++
		}

		if job.Lease != nil {
			if err := job.Lease.Extend(ctx); err != nil {
				logger.Warn("dispatch lock extend failed", slog.String("error", err.Error()))
			}
		}

		done := i + 1
		if onProgress != nil && e.progressEvery > 0 && done%e.progressEvery == 0 && done < total {
			onProgress(Progress{Done: done, Total: total, Result: res})
		}
	}

	logger.Info("dispatch finished",
		slog.Int("attempted", res.Attempted),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed))
	return res, nil
}

// wait blocks until the limiter admits the next attempt. rate.Every rounds
// some intervals down by a nanosecond, so the delay is also held to the
// exact interval since the previous attempt.
func (e *Engine) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	now := e.clock.Now()
	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		e.mu.Unlock()
		return nil
	}
	delay := r.DelayFrom(now)
	if gap := e.next.Sub(now); gap > delay {
		delay = gap
	}
	e.next = now.Add(delay + e.interval)
	e.mu.Unlock()

	if err := e.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(e.clock.Now())
		return err
	}
	return nil
}

func (e *Engine) send(ctx context.Context, logger *slog.Logger, addr, body string) bool {
	sendCtx := ctx
	if e.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, e.sendTimeout)
		defer cancel()
	}

	start := e.clock.Now()
	id, err := e.sender.Send(sendCtx, transport.Message{To: addr, Body: body})
	latency := e.clock.Now().Sub(start)

	if err != nil {
		e.collector.SendCompleted(metrics.ResultFailure, latency)
		logger.Warn("send failed",
			slog.String("to", e.redactor.Address(addr)),
			slog.Bool("permanent", transport.IsPermanent(err)),
			slog.String("error", e.redactor.Text(err.Error(), addr)))
		return false
	}

	e.collector.SendCompleted(metrics.ResultSuccess, latency)
	logger.Debug("send ok",
		slog.String("to", e.redactor.Address(addr)),
		slog.String("confirmation", id),
		slog.Duration("latency", latency))
	return true
}
