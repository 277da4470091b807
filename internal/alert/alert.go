// Package alert formats findings into messages and hands them to a
// Notifier. Delivery is at most once: a failed Notify is reported, never
// retried.
package alert

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
)

var (
	ErrNoRecipients = errors.New("alert: no recipients configured")
	ErrNoNotifier   = errors.New("alert: no notifier configured")
)

// Message is what a Notifier delivers. Finding is carried for transports
// that send structured payloads.
type Message struct {
	Subject    string
	Body       string
	Recipients []string
	Finding    types.Finding
}

// Notifier delivers one message. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (fn NotifierFunc) Notify(ctx context.Context, msg Message) error { return fn(ctx, msg) }

// Result reports the outcome of one dispatch.
type Result struct {
	Delivered bool
	Err       error
}

// Dispatcher turns findings into messages for a single Notifier.
type Dispatcher struct {
	notifier   Notifier
	recipients []string
	timeout    time.Duration
	logger     *zap.Logger
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTimeout bounds each Notify call. Zero disables the bound.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t >= 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(n Notifier, recipients []string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier:   n,
		recipients: append([]string(nil), recipients...),
		timeout:    30 * time.Second,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Recipients returns a copy of the configured recipients.
func (d *Dispatcher) Recipients() []string {
	return append([]string(nil), d.recipients...)
}

// Dispatch formats f and calls Notify exactly once.
func (d *Dispatcher) Dispatch(ctx context.Context, f types.Finding) Result {
	log := d.logger.With(zap.String("path", f.Path), zap.String("kind", string(f.Kind)), zap.String("finding", f.ID))
	if d.notifier == nil {
		log.Error("Alert not sent", zap.Error(ErrNoNotifier))
		return Result{Err: ErrNoNotifier}
	}
	if len(d.recipients) == 0 {
		log.Error("Alert not sent", zap.Error(ErrNoRecipients))
		return Result{Err: ErrNoRecipients}
	}
	msg := Format(f)
	msg.Recipients = d.Recipients()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.notify(ctx, msg); err != nil {
		log.Error("Failed to send alert", zap.Error(err))
		return Result{Err: err}
	}
	log.Info("Alert sent", zap.String("severity", string(f.Severity)))
	return Result{Delivered: true}
}

func (d *Dispatcher) notify(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, msg)
}

// TimestampLayout is used in message bodies.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// Format renders the subject and body for f. Recipients are left empty.
func Format(f types.Finding) Message {
	level := strings.ToUpper(string(f.Severity))
	if level == "" {
		level = strings.ToUpper(string(types.SevMed))
	}
	subject := fmt.Sprintf("FIM ALERT [%s]: File %s - %s", level, f.Kind.Title(), path.Base(f.Path))

	var b strings.Builder
	b.WriteString("File Integrity Monitoring Alert\n")
	b.WriteString("==============================\n")
	fmt.Fprintf(&b, "Event Type: %s\n", f.Kind.Title())
	fmt.Fprintf(&b, "Alert Level: %s\n", level)
	fmt.Fprintf(&b, "Timestamp: %s\n", f.ObservedAt.Format(TimestampLayout))
	fmt.Fprintf(&b, "File Path: %s\n", f.Path)
	if f.OldPath != "" {
		fmt.Fprintf(&b, "Old Path: %s\n", f.OldPath)
	}
	if f.PreviousDigest != "" || f.CurrentDigest != "" || f.ID != "" || f.Source != "" || f.User != "" {
		b.WriteString("\nAdditional Details:\n")
		if f.PreviousDigest != "" {
			fmt.Fprintf(&b, "Previous Hash: %s\n", f.PreviousDigest)
		}
		if f.CurrentDigest != "" {
			fmt.Fprintf(&b, "Current Hash: %s\n", f.CurrentDigest)
		}
		if f.ID != "" {
			fmt.Fprintf(&b, "Finding ID: %s\n", f.ID)
		}
		if f.Source != "" {
			fmt.Fprintf(&b, "Source: %s\n", f.Source)
		}
		if f.User != "" {
			fmt.Fprintf(&b, "User: %s\n", f.User)
		}
	}
	return Message{Subject: subject, Body: b.String(), Finding: f}
}
