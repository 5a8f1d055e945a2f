// Package spamcheck screens outbound message content before fan-out.
package spamcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Action represents the recommended action from a content checker.
type Action string

const (
	// ActionAccept means the message may be sent.
	ActionAccept Action = "accept"
	// ActionReject means the message must not be sent.
	ActionReject Action = "reject"
	// ActionTempFail means the checker asked to retry later.
	ActionTempFail Action = "tempfail"
	// ActionFlag means the message looks suspicious but may be sent.
	ActionFlag Action = "flag"
)

// CheckOptions describes who is sending and to how many recipients.
type CheckOptions struct {
	// From is the sender address placed on the synthetic message.
	From string

	// User is the identity that requested the dispatch.
	User string

	// QueueID is the dispatch job id, for correlation in checker logs.
	QueueID string

	// Recipients is the number of addresses the message will go to.
	Recipients int
}

// CheckResult represents the result of a content check.
type CheckResult struct {
	// CheckerName identifies which checker produced this result.
	CheckerName string

	// Score is the spam score (higher = more likely spam).
	Score float64

	// Action is the recommended action.
	Action Action

	// IsSpam indicates whether the checker considers this spam.
	IsSpam bool

	// RejectMessage explains a rejection to the requester.
	RejectMessage string

	// Symbols lists the rules that matched, for logging.
	Symbols []string
}

// ShouldReject returns true if the result indicates the message should be rejected.
func (r *CheckResult) ShouldReject(threshold float64) bool {
	if r.Action == ActionReject {
		return true
	}
	if threshold > 0 && r.Score >= threshold {
		return true
	}
	return false
}

// Checker is the interface for content filtering backends.
type Checker interface {
	// Name returns the name of this checker for logging.
	Name() string

	// Check scores an RFC 5322 message.
	Check(ctx context.Context, message io.Reader, opts CheckOptions) (*CheckResult, error)

	// Close releases any resources held by the checker.
	Close() error
}

// FailMode defines the behavior when the checker is unavailable or errors.
type FailMode string

const (
	// FailOpen lets the dispatch proceed when the checker is unavailable.
	FailOpen FailMode = "open"
	// FailReject refuses the dispatch when the checker is unavailable.
	FailReject FailMode = "reject"
)

var (
	// ErrRejected is returned when the checker rejects the message.
	ErrRejected = errors.New("message rejected by content screening")
	// ErrUnavailable is returned when the checker fails and the fail mode is reject.
	ErrUnavailable = errors.New("content screening unavailable")
)

// RejectedError carries the checker's result for a rejected message.
type RejectedError struct {
	Result *CheckResult
}

func (e *RejectedError) Error() string {
	if e.Result.RejectMessage != "" {
		return e.Result.RejectMessage
	}
	return fmt.Sprintf("%s (score %.1f)", ErrRejected, e.Result.Score)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Config holds the settings of a Screener.
type Config struct {
	Checker Checker
	// FailMode determines behavior when the checker is unavailable.
	FailMode FailMode
	// RejectThreshold is the score at or above which messages are refused.
	// Zero defers to the checker's own action.
	RejectThreshold float64
	Logger          *slog.Logger
}

// Screener checks a dispatch message once before it is fanned out.
type Screener struct {
	checker   Checker
	failMode  FailMode
	threshold float64
	now       func() time.Time
	logger    *slog.Logger
}

// NewScreener creates a Screener.
func NewScreener(cfg Config) *Screener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Screener{
		checker:   cfg.Checker,
		failMode:  cfg.GetFailMode(),
		threshold: cfg.RejectThreshold,
		now:       time.Now,
		logger:    logger,
	}
}

// GetFailMode returns the fail mode, defaulting to open if not set.
func (c *Config) GetFailMode() FailMode {
	switch c.FailMode {
	case FailOpen, FailReject:
		return c.FailMode
	default:
		return FailOpen
	}
}

// Screen checks body. It returns a *RejectedError when the checker refuses
// the message, ErrUnavailable when the checker fails under FailReject, and
// nil otherwise.
func (s *Screener) Screen(ctx context.Context, body string, opts CheckOptions) error {
	msg := syntheticMessage(body, opts, s.now())
	result, err := s.checker.Check(ctx, bytes.NewReader(msg), opts)
	if err != nil {
		s.logger.Warn("content screening failed",
			slog.String("checker", s.checker.Name()),
			slog.String("fail_mode", string(s.failMode)),
			slog.String("error", err.Error()))
		if s.failMode == FailReject {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	attrs := []any{
		slog.String("checker", result.CheckerName),
		slog.Float64("score", result.Score),
		slog.String("action", string(result.Action)),
		slog.Int("recipients", opts.Recipients),
	}
	if result.ShouldReject(s.threshold) {
		s.logger.Info("content screening rejected message", append(attrs, slog.Any("symbols", result.Symbols))...)
		return &RejectedError{Result: result}
	}
	s.logger.Debug("content screening passed", attrs...)
	return nil
}

// Close releases the checker.
func (s *Screener) Close() error {
	return s.checker.Close()
}

// syntheticMessage wraps body in the minimal headers a mail scanner expects.
func syntheticMessage(body string, opts CheckOptions, now time.Time) []byte {
	from := opts.From
	if from == "" {
		from = "relayd@localhost"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	b.WriteString("To: undisclosed-recipients:;\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	if opts.QueueID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s@relayd>\r\n", opts.QueueID)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.Bytes()
}
