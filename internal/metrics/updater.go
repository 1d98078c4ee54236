package metrics

import (
	"context"
	"log/slog"
)

// PendingCounter reports how many certificates wait to be minted.
type PendingCounter interface {
	CountPendingMints(ctx context.Context) (int, error)
}

// Updater refreshes the gauges that are read from the database.
type Updater struct {
	source  PendingCounter
	trigger chan struct{}
}

func NewUpdater(source PendingCounter) *Updater {
	return &Updater{
		source: source,
		// buffered channel to avoid blocking and all we need to know is that "something"
		// has happened whilst we were busy
		trigger: make(chan struct{}, 1),
	}
}

func (u *Updater) Start(ctx context.Context) {
	u.Trigger()
	go func() {
		for {
			select {
			case <-u.trigger:
				u.UpdateMetrics(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (u *Updater) Trigger() {
	select {
	case u.trigger <- struct{}{}:
	default:
		// channel is full, so we don't need to do anything
	}
}

func (u *Updater) UpdateMetrics(ctx context.Context) {
	n, err := u.source.CountPendingMints(ctx)
	if err != nil {
		slog.Error("failed to count pending mints", "err", err)
		return
	}
	SetPendingMints(n)
	slog.Debug("updated metrics", "pending_mints", n)
}
