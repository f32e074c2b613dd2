package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/bookshop-backend/pkg/logger"
)

const sessionReaperName = "cart_session_reaper"

type idleEvicter interface {
	EvictIdle(maxIdle time.Duration) int
	Len() int
}

type sessionReaper struct {
	sessions idleEvicter
	maxIdle  time.Duration
	logg     *logger.Logger
}

// NewSessionReaperJob closes cart sessions unused for longer than maxIdle.
func NewSessionReaperJob(sessions idleEvicter, maxIdle time.Duration, logg *logger.Logger) (Job, error) {
	if sessions == nil {
		return nil, fmt.Errorf("cart sessions required")
	}
	if maxIdle <= 0 {
		return nil, fmt.Errorf("max idle must be positive, got %s", maxIdle)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &sessionReaper{sessions: sessions, maxIdle: maxIdle, logg: logg}, nil
}

func (j *sessionReaper) Name() string { return sessionReaperName }

func (j *sessionReaper) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	evicted := j.sessions.EvictIdle(j.maxIdle)
	if evicted > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"evicted":   evicted,
			"remaining": j.sessions.Len(),
		}), "idle cart sessions closed")
	}
	return nil
}
