// Package notify provides alert.Notifier transports: SMTP, webhook, NATS and
// the log, plus wrappers for rate limiting and fan-out.
package notify
