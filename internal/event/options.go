package event

import "github.com/dshills/panelbus/internal/logging"

// Poster schedules a function to run later on the panel's loop.
// Post reports false when the function was not accepted.
type Poster interface {
	Post(fn func()) bool
}

// Option configures a Bus.
type Option func(*busConfig)

type busConfig struct {
	logger  *logging.Logger
	poster  Poster
	onError func(err error)
}

func defaultBusConfig() busConfig {
	return busConfig{
		logger: logging.Nop(),
	}
}

// WithLogger sets the logger used for subscription and failure messages.
func WithLogger(l *logging.Logger) Option {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDeferredDelivery posts each direct and Any handler invocation to p
// instead of running it inline. Category handlers still run inline.
func WithDeferredDelivery(p Poster) Option {
	return func(c *busConfig) {
		c.poster = p
	}
}

// WithErrorHandler registers a hook that receives every *HandlerError
// and *PanicError after it has been logged.
func WithErrorHandler(fn func(err error)) Option {
	return func(c *busConfig) {
		c.onError = fn
	}
}
