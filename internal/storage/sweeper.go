package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/metrics"
)

// Sweeper deletes transient blobs left behind when a process died between
// upload and cleanup. Normal requests remove their own blobs.
type Sweeper struct {
	store    BlobStore
	lister   Lister
	ttl      time.Duration
	interval time.Duration
	cron     *cron.Cron
	log      zerolog.Logger
}

// NewSweeper returns nil if the store cannot list its contents.
func NewSweeper(store BlobStore, ttl, interval time.Duration, log zerolog.Logger) *Sweeper {
	lister, ok := store.(Lister)
	if !ok || ttl <= 0 || interval <= 0 {
		return nil
	}
	return &Sweeper{
		store:    store,
		lister:   lister,
		ttl:      ttl,
		interval: interval,
		cron:     cron.New(),
		log:      log.With().Str("component", "blob-sweeper").Logger(),
	}
}

func (s *Sweeper) Start() {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to schedule sweeper")
		return
	}
	s.cron.Start()
	s.log.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("blob sweeper started")
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep deletes every blob older than the TTL and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	keys, err := s.lister.ListOlder(ctx, time.Now().Add(-s.ttl))
	if err != nil {
		s.log.Warn().Err(err).Msg("listing stale blobs failed")
	}

	deleted := 0
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to delete stale blob")
			continue
		}
		deleted++
	}
	metrics.BlobsSweptTotal.Add(float64(deleted))
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("stale blobs swept")
	}
	return deleted
}
