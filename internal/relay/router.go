// Package relay maps inbound bot events to gate checks, registry changes,
// recipient uploads and dispatch jobs.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infodancer/relayd/internal/dispatch"
	"github.com/infodancer/relayd/internal/gate"
	"github.com/infodancer/relayd/internal/identity"
	"github.com/infodancer/relayd/internal/logging"
	"github.com/infodancer/relayd/internal/metrics"
	"github.com/infodancer/relayd/internal/recipients"
	"github.com/infodancer/relayd/internal/registry"
	"github.com/infodancer/relayd/internal/spamcheck"
)

var (
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("upload exceeds size limit")
	// ErrUsage is returned when a command is missing its argument.
	ErrUsage = errors.New("missing command argument")
	// ErrUnknownCommand is returned for commands the router does not handle.
	ErrUnknownCommand = errors.New("unknown command")
)

// Command names.
const (
	CmdStart   = "start"
	CmdHelp    = "help"
	CmdApprove = "approve"
	CmdRemove  = "remove"
	CmdUsers   = "users"
	CmdStatus  = "status"
	CmdSend    = "send"
	CmdUpload  = "upload"
)

// notifyTimeout bounds replies sent after the triggering request is gone.
const notifyTimeout = 10 * time.Second

// Document is an uploaded file attached to an event.
type Document struct {
	FileRef  string
	FileName string
	Size     int64
}

// Event is one inbound request. Command is the bare command name without
// the leading slash; Args is the rest of the text. An event carrying a
// Document is an upload.
type Event struct {
	From     identity.Identity
	Command  string
	Args     string
	Document *Document
}

// Notifier delivers a reply to an identity.
type Notifier interface {
	Notify(ctx context.Context, to identity.Identity, text string) error
}

// Fetcher downloads the contents of an uploaded file.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Screener checks a message body before it is dispatched.
type Screener interface {
	Screen(ctx context.Context, body string, opts spamcheck.CheckOptions) error
}

// Config holds the dependencies of a Router.
type Config struct {
	Registry   *registry.Registry
	Gate       *gate.Gate
	Recipients *recipients.Store
	Engine     *dispatch.Engine
	Locker     dispatch.Locker
	Notifier   Notifier
	Fetcher    Fetcher
	Screener   Screener // nil disables content screening

	MaxUploadBytes int64             // zero disables the limit
	Collector      metrics.Collector // nil → NoopCollector
	Logger         *slog.Logger      // nil → slog.Default()
	Now            func() time.Time  // nil → time.Now
}

// Router handles events. Dispatch jobs run on their own goroutines; Close
// stops them.
type Router struct {
	registry   *registry.Registry
	gate       *gate.Gate
	recipients *recipients.Store
	engine     *dispatch.Engine
	locker     dispatch.Locker
	notifier   Notifier
	fetcher    Fetcher
	screener   Screener

	maxUpload int64
	collector metrics.Collector
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Router.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	locker := cfg.Locker
	if locker == nil {
		locker = dispatch.NewLocalLock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		registry:   cfg.Registry,
		gate:       cfg.Gate,
		recipients: cfg.Recipients,
		engine:     cfg.Engine,
		locker:     locker,
		notifier:   cfg.Notifier,
		fetcher:    cfg.Fetcher,
		screener:   cfg.Screener,
		maxUpload:  cfg.MaxUploadBytes,
		collector:  collector,
		logger:     logger,
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handle processes one event and replies to its sender. The returned error
// describes why the request was refused or failed; the sender has already
// been told.
func (r *Router) Handle(ctx context.Context, ev Event) error {
	from, err := identity.Parse(ev.From.String())
	if err != nil {
		return fmt.Errorf("event sender: %w", err)
	}
	ev.From = from

	logger := logging.WithIdentity(r.logger, from.String())
	ctx = logging.NewContext(ctx, logger)

	name, err := r.route(ctx, ev)
	if name == "" {
		return nil
	}

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, gate.ErrNotAuthorized):
		result = "denied"
	default:
		result = "error"
	}
	r.collector.CommandProcessed(name, result)
	logger.Debug("command processed",
		slog.String("command", name),
		slog.String("result", result))
	return err
}

// route dispatches ev to its handler and returns the command name used for
// metrics. An empty name means the event was ignored.
func (r *Router) route(ctx context.Context, ev Event) (string, error) {
	if ev.Document != nil {
		return CmdUpload, r.handleUpload(ctx, ev)
	}

	cmd := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ev.Command), "/"))
	args := strings.TrimSpace(ev.Args)
	switch cmd {
	case "":
		return "", nil
	case CmdStart:
		return cmd, r.handleStart(ctx, ev.From)
	case CmdHelp:
		r.reply(ctx, ev.From, helpText)
		return cmd, nil
	case CmdApprove:
		return cmd, r.handleApprove(ctx, ev.From, args)
	case CmdRemove:
		return cmd, r.handleRemove(ctx, ev.From, args)
	case CmdUsers:
		return cmd, r.handleUsers(ctx, ev.From)
	case CmdStatus:
		return cmd, r.handleStatus(ctx, ev.From)
	case CmdSend:
		return cmd, r.handleSend(ctx, ev.From, args)
	default:
		r.reply(ctx, ev.From, msgUnknown)
		return "unknown", ErrUnknownCommand
	}
}

func (r *Router) handleStart(ctx context.Context, from identity.Identity) error {
	if err := r.gate.Check(gate.ActionBootstrap, from); err != nil {
		return err
	}
	r.reply(ctx, from, msgWelcome)
	if r.registry.IsApproved(from) {
		r.reply(ctx, from, msgApproved)
	} else {
		r.reply(ctx, from, msgNotApproved)
	}
	return nil
}

func (r *Router) handleApprove(ctx context.Context, from identity.Identity, arg string) error {
	if err := r.gate.Check(gate.ActionMutate, from); err != nil {
		return r.deny(ctx, from, gate.ActionMutate, msgApproveDenied, err)
	}
	id, err := identity.Parse(arg)
	if err != nil {
		r.reply(ctx, from, usage(CmdApprove))
		return ErrUsage
	}

	added, err := r.registry.Approve(ctx, id)
	text := approvedText(id, added)
	if err != nil {
		var pe *registry.PersistError
		if !errors.As(err, &pe) {
			r.reply(ctx, from, usage(CmdApprove))
			return err
		}
		text += "\n" + msgPersistFailed
	}
	r.reply(ctx, from, text)
	return nil
}

func (r *Router) handleRemove(ctx context.Context, from identity.Identity, arg string) error {
	if err := r.gate.Check(gate.ActionMutate, from); err != nil {
		return r.deny(ctx, from, gate.ActionMutate, msgRemoveDenied, err)
	}
	id, err := identity.Parse(arg)
	if err != nil {
		r.reply(ctx, from, usage(CmdRemove))
		return ErrUsage
	}

	removed, err := r.registry.Remove(ctx, id)
	text := removedText(id, removed)
	if err != nil {
		var pe *registry.PersistError
		if !errors.As(err, &pe) {
			r.reply(ctx, from, usage(CmdRemove))
			return err
		}
		text += "\n" + msgPersistFailed
	}
	r.reply(ctx, from, text)
	return nil
}

func (r *Router) handleUsers(ctx context.Context, from identity.Identity) error {
	if err := r.gate.Check(gate.ActionInspect, from); err != nil {
		return r.deny(ctx, from, gate.ActionInspect, msgInspectDenied, err)
	}
	r.reply(ctx, from, usersText(r.registry.Members()))
	return nil
}

func (r *Router) handleStatus(ctx context.Context, from identity.Identity) error {
	if !r.gate.CanDispatch(from) && !r.gate.IsAdmin(from) {
		return r.deny(ctx, from, gate.ActionInspect, msgInspectDenied, gate.ErrNotAuthorized)
	}
	list, err := r.recipients.Current()
	hasList := err == nil
	holder, err := r.locker.Holder(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("dispatch lock lookup failed", slog.String("error", err.Error()))
	}
	r.reply(ctx, from, statusText(list.Len(), hasList, holder))
	return nil
}

func (r *Router) handleUpload(ctx context.Context, ev Event) error {
	logger := logging.FromContext(ctx)
	if err := r.gate.Check(gate.ActionUpload, ev.From); err != nil {
		return r.deny(ctx, ev.From, gate.ActionUpload, msgUploadDenied, err)
	}

	doc := ev.Document
	if r.maxUpload > 0 && doc.Size > r.maxUpload {
		r.reply(ctx, ev.From, msgUploadTooBig)
		return ErrTooLarge
	}

	data, err := r.fetcher.Fetch(ctx, doc.FileRef)
	if err == nil && r.maxUpload > 0 && int64(len(data)) > r.maxUpload {
		err = ErrTooLarge
	}
	if err != nil {
		logger.Warn("upload download failed",
			slog.String("file", doc.FileName),
			slog.String("error", err.Error()))
		if errors.Is(err, ErrTooLarge) {
			r.reply(ctx, ev.From, msgUploadTooBig)
		} else {
			r.reply(ctx, ev.From, msgUploadFailed)
		}
		return fmt.Errorf("fetch upload: %w", err)
	}

	list := r.recipients.SetFromUpload(data, ev.From, r.now())
	r.collector.UploadAccepted(list.Len())
	logger.Info("recipient list uploaded",
		slog.String("file", doc.FileName),
		slog.Int("recipients", list.Len()))
	r.reply(ctx, ev.From, uploadedText(list.Len()))
	return nil
}

func (r *Router) handleSend(ctx context.Context, from identity.Identity, body string) error {
	logger := logging.FromContext(ctx)
	if err := r.gate.Check(gate.ActionDispatch, from); err != nil {
		return r.deny(ctx, from, gate.ActionDispatch, msgSendDenied, err)
	}
	if body == "" {
		r.reply(ctx, from, msgEmptyMessage)
		return ErrUsage
	}

	list, err := r.recipients.Current()
	if err != nil {
		r.collector.DispatchFinished(metrics.OutcomeNoList)
		r.reply(ctx, from, msgNoList)
		return err
	}

	jobID := uuid.NewString()
	if r.screener != nil {
		err := r.screener.Screen(ctx, body, spamcheck.CheckOptions{
			User:       from.String(),
			QueueID:    jobID,
			Recipients: list.Len(),
		})
		if err != nil {
			r.collector.DispatchFinished(metrics.OutcomeScreened)
			logger.Info("dispatch refused by screening",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
			if errors.Is(err, spamcheck.ErrUnavailable) {
				r.reply(ctx, from, msgScreenFailed)
			} else {
				r.reply(ctx, from, msgScreened)
			}
			return err
		}
	}

	lease, err := r.locker.Acquire(ctx, jobID)
	if err != nil {
		if errors.Is(err, dispatch.ErrInProgress) {
			r.collector.DispatchFinished(metrics.OutcomeBusy)
			r.reply(ctx, from, msgBusy)
			return err
		}
		logger.Error("dispatch lock failed", slog.String("error", err.Error()))
		r.reply(ctx, from, msgDispatchError)
		return fmt.Errorf("acquire dispatch lock: %w", err)
	}

	r.collector.DispatchStarted()
	r.reply(ctx, from, startedText(list.Len()))

	job := dispatch.Job{
		ID:         jobID,
		Message:    body,
		Recipients: list.Addresses,
		Invoker:    from,
		Lease:      lease,
	}
	r.wg.Add(1)
	go r.run(job)
	return nil
}

// run executes job and reports the outcome to its invoker. The lease is
// released on every path, including a panic in the send loop.
func (r *Router) run(job dispatch.Job) {
	defer r.wg.Done()
	logger := logging.WithJob(r.logger, job.ID)

	outcome := metrics.OutcomeFailed
	defer func() {
		if p := recover(); p != nil {
			logger.Error("dispatch panicked", slog.Any("panic", p))
			r.notifyDetached(job.Invoker, msgDispatchError)
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), notifyTimeout)
		defer cancel()
		if err := job.Lease.Release(ctx); err != nil {
			logger.Warn("dispatch lock release failed", slog.String("error", err.Error()))
		}
		r.collector.DispatchFinished(outcome)
	}()

	progress := func(p dispatch.Progress) {
		r.reply(r.ctx, job.Invoker, progressText(p))
	}
	res, err := r.engine.Run(r.ctx, job, progress)
	if err != nil {
		outcome = metrics.OutcomeCanceled
		r.notifyDetached(job.Invoker, canceledText(res))
		return
	}
	outcome = metrics.OutcomeCompleted
	r.notifyDetached(job.Invoker, finishedText(res))
}

// Wait blocks until every running dispatch has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Close cancels running dispatches and waits for them to stop.
func (r *Router) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}

func (r *Router) deny(ctx context.Context, to identity.Identity, action, text string, err error) error {
	r.collector.AuthorizationDenied(action)
	logging.FromContext(ctx).Info("request denied", slog.String("action", action))
	r.reply(ctx, to, text)
	return err
}

func (r *Router) reply(ctx context.Context, to identity.Identity, text string) {
	if err := r.notifier.Notify(ctx, to, text); err != nil {
		r.logger.Warn("reply failed",
			slog.String("identity", to.String()),
			slog.String("error", err.Error()))
	}
}

// notifyDetached replies even after the router has been closed.
func (r *Router) notifyDetached(to identity.Identity, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), notifyTimeout)
	defer cancel()
	r.reply(ctx, to, text)
}
