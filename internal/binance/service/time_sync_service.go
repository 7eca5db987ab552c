package service

import (
	"context"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"laddertrade/internal/logger"
)

// TimeSyncService keeps the client's request timestamps aligned with exchange
// time, otherwise signed requests fail with -1021.
type TimeSyncService struct {
	client     *futures.Client
	interval   time.Duration
	timeDiff   time.Duration
	lastUpdate time.Time
	mu         sync.Mutex
}

func NewTimeSyncService(client *futures.Client) *TimeSyncService {
	return &TimeSyncService{
		client:   client,
		interval: 5 * time.Minute,
	}
}

// Start syncs once and then periodically until ctx is done.
func (t *TimeSyncService) Start(ctx context.Context) {
	t.SyncTime(ctx)
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.SyncTime(ctx)
			}
		}
	}()
}

// SyncTime measures the clock difference and applies it to the client.
func (t *TimeSyncService) SyncTime(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	localTimeBefore := time.Now()
	serverTime, err := t.client.NewServerTimeService().Do(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "TimeSyncService: failed to get server time", err)
		return
	}
	localTimeAfter := time.Now()

	roundTripTime := localTimeAfter.Sub(localTimeBefore)
	estimatedTransmissionDelay := roundTripTime / 2
	adjustedServerTime := time.UnixMilli(serverTime).Add(estimatedTransmissionDelay)
	timeDiff := localTimeBefore.Add(estimatedTransmissionDelay).Sub(adjustedServerTime)

	t.timeDiff = timeDiff
	t.lastUpdate = time.Now()
	// the SDK subtracts TimeOffset from local time when signing
	t.client.TimeOffset = timeDiff.Milliseconds()

	logger.Info(ctx, "TimeSyncService: time difference updated",
		"diff", timeDiff.String(), "round_trip", roundTripTime.String())
}

func (t *TimeSyncService) GetTimeDiff() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeDiff
}
