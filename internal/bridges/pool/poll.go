package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-pool/internal/history"
)

const (
	defaultPollInterval = 5 * time.Second

	// maxConcurrentUpdates bounds the per-entity update fan-out.
	maxConcurrentUpdates = 8
)

// pollLoop drives polling, periodic rediscovery and history pruning until
// the bridge stops.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	interval := seconds(b.cfg.PollInterval)
	if interval <= 0 {
		interval = defaultPollInterval
	}
	pollTicker := time.NewTicker(interval)
	defer pollTicker.Stop()

	var discoveryC <-chan time.Time
	if d := seconds(b.cfg.DiscoveryInterval); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		discoveryC = t.C
	}

	var pruneC <-chan time.Time
	if b.history != nil && b.cfg.HistoryRetentionDays > 0 {
		t := time.NewTicker(pruneInterval)
		defer t.Stop()
		pruneC = t.C
		b.prune(b.ctx)
	}

	for {
		select {
		case <-b.done:
			return
		case <-b.ctx.Done():
			return
		case <-pollTicker.C:
			if _, err := b.poll(b.ctx); err != nil {
				b.logDebug("poll failed", "error", err)
			}
		case <-discoveryC:
			if err := b.discover(b.ctx); err != nil {
				b.logError("periodic discovery failed", err)
			}
		case <-pruneC:
			b.prune(b.ctx)
		}
	}
}

// poll runs one update cycle and returns how many states were published.
//
// With no circuits known it attempts rediscovery instead, spaced out by an
// exponential backoff. Otherwise it refreshes the shared snapshot once, then
// reloads every entity from it concurrently and publishes the changes.
func (b *Bridge) poll(ctx context.Context) (int, error) {
	if b.CircuitCount() == 0 {
		return 0, b.rediscover(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	if err := b.controller.UpdateData(ctx); err != nil {
		b.recordPoll(err)
		b.metrics.SetControllerUp(false, b.now())
		return 0, err
	}
	b.recordPoll(nil)
	b.metrics.SetControllerUp(true, b.now())

	entities := b.controller.Entities()

	// The shared fetch above has just run, so each Update is throttled and
	// only reloads the entity's cached fields.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUpdates)
	for _, e := range entities {
		e := e // per-iteration copy; go.mod targets Go 1.21 (pre-1.22 loopvar semantics)
		g.Go(func() error {
			if err := e.Update(gctx); err != nil {
				return fmt.Errorf("circuit %d: %w", e.Number(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.logWarn("circuit update incomplete", "error", err)
	}

	published := 0
	for _, e := range entities {
		if b.publishIfChanged(ctx, e.Snapshot(), history.SourcePoll) {
			published++
		}
	}
	return published, nil
}

// rediscover retries discovery no more often than the backoff allows.
func (b *Bridge) rediscover(ctx context.Context) error {
	b.rediscoverMu.Lock()
	defer b.rediscoverMu.Unlock()

	now := b.now()
	if now.Before(b.rediscoverAt) {
		return ErrNoCircuits
	}

	if err := b.discover(ctx); err != nil {
		wait := b.rediscoverBO.NextBackOff()
		if wait == backoff.Stop {
			wait = time.Minute
		}
		b.rediscoverAt = now.Add(wait)
		b.logWarn("rediscovery failed", "retry_in", wait.String(), "error", err)
		return err
	}

	b.rediscoverBO.Reset()
	b.rediscoverAt = time.Time{}
	return nil
}

func (b *Bridge) prune(ctx context.Context) {
	if b.history == nil || b.cfg.HistoryRetentionDays <= 0 {
		return
	}
	retention := time.Duration(b.cfg.HistoryRetentionDays) * 24 * time.Hour
	deleted, err := b.history.PruneHistory(ctx, retention)
	if err != nil {
		b.logError("failed to prune state history", err)
		return
	}
	if deleted > 0 {
		b.logInfo("pruned state history", "deleted", deleted)
	}
}

func (b *Bridge) recordPoll(err error) {
	b.pollMu.Lock()
	b.lastPollErr = err
	b.lastPollTime = b.now()
	b.polled = true
	b.pollMu.Unlock()
}

// ControllerStatus reports the outcome of the last controller contact.
func (b *Bridge) ControllerStatus() ControllerStatus {
	b.pollMu.RLock()
	err, polledAt, polled := b.lastPollErr, b.lastPollTime, b.polled
	b.pollMu.RUnlock()

	cs := ControllerStatus{
		Status:  controllerUnknown,
		Address: b.controller.Address(),
	}
	if stats := b.controller.Stats(); !stats.LastFetch.IsZero() {
		last := stats.LastFetch.UTC()
		cs.LastFetch = &last
	}
	if !polled {
		return cs
	}
	last := polledAt.UTC()
	cs.LastPoll = &last
	if err != nil {
		cs.Status = controllerUnreachable
		cs.LastError = err.Error()
		return cs
	}
	cs.Status = controllerReachable
	return cs
}

// Statistics returns the bridge and controller counters.
func (b *Bridge) Statistics() BridgeStatistics {
	stats := b.controller.Stats()
	return BridgeStatistics{
		ControllerRequests: stats.Requests,
		ControllerErrors:   stats.RequestErrors,
		Fetches:            stats.Fetches,
		CommandsReceived:   b.commandsReceived.Load(),
		CommandsFailed:     b.commandsFailed.Load(),
		StatesPublished:    b.statesPublished.Load(),
	}
}

// CircuitCount returns the number of known circuits.
func (b *Bridge) CircuitCount() int {
	return len(b.controller.Entities())
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	status, reason := b.health.Status()
	return b.health.Message(status, reason)
}

// Poll forces an immediate fetch, bypassing the scan interval, and
// publishes any changes. It returns the number of snapshots published.
func (b *Bridge) Poll(ctx context.Context) (int, error) {
	b.controller.SetSkipUpdateWait(true)
	return b.poll(ctx)
}

// PublishState publishes an entity's state after an out-of-band command.
func (b *Bridge) PublishState(ctx context.Context, number int, source string) {
	e, ok := b.controller.Entity(number)
	if !ok {
		return
	}
	b.publishIfChanged(ctx, e.Snapshot(), source)
}
