package delivery

import (
	"context"
	"fmt"

	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/pkg/logger"
	"golang.org/x/time/rate"
)

// Deliverer sends one notification to one target. With committed=false the
// message is prepared and logged but not sent.
type Deliverer interface {
	Deliver(ctx context.Context, target string, lines []string, committed bool) error
}

// New builds the configured driver behind a send-rate limiter
func New(cfg config.DeliveryConfig, logger *logger.Logger) (Deliverer, error) {
	var d Deliverer
	switch cfg.Driver {
	case config.DriverLog:
		d = NewLogDeliverer(logger)
	case config.DriverTelegram:
		tg, err := NewTelegram(cfg.TelegramToken, cfg.Targets, logger)
		if err != nil {
			return nil, err
		}
		d = tg
	default:
		return nil, fmt.Errorf("unknown delivery driver: %s", cfg.Driver)
	}
	return NewRateLimited(d, cfg.RatePerSecond), nil
}

// RateLimited throttles an underlying Deliverer with a token bucket
type RateLimited struct {
	next    Deliverer
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond deliveries per second with an equal burst
func NewRateLimited(next Deliverer, perSecond int) *RateLimited {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

// Deliver waits for a token, then delegates. Dry runs are not throttled.
func (r *RateLimited) Deliver(ctx context.Context, target string, lines []string, committed bool) error {
	if committed {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("delivery rate limit wait: %w", err)
		}
	}
	return r.next.Deliver(ctx, target, lines, committed)
}

// LogDeliverer writes notifications to the log instead of a chat
type LogDeliverer struct {
	logger *logger.Logger
}

// NewLogDeliverer creates a log-only deliverer
func NewLogDeliverer(logger *logger.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger.Named("delivery")}
}

// Deliver logs the message lines
func (d *LogDeliverer) Deliver(_ context.Context, target string, lines []string, committed bool) error {
	d.logger.Info("Notification",
		logger.String("target", target),
		logger.Bool("committed", committed),
		logger.Strings("lines", lines),
	)
	return nil
}
