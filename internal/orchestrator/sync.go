package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
)

// Reasons a sync was skipped.
const (
	SkipOffline        = "offline"
	SkipAlreadySyncing = "already_syncing"
	SkipNotReady       = "store_not_ready"
)

// SyncResult reports what a single SyncPendingData call did.
type SyncResult struct {
	ItinerariesSynced int      `json:"itineraries_synced"`
	ItinerariesFailed int      `json:"itineraries_failed"`
	MessagesSent      int      `json:"messages_sent"`
	MessagesFailed    int      `json:"messages_failed"`
	Errors            []string `json:"errors,omitempty"`
	Skipped           bool     `json:"skipped,omitempty"`
	SkipReason        string   `json:"skip_reason,omitempty"`
}

// SyncPendingData pushes pending itineraries, then pending messages, to the
// server. It is a no-op (Skipped) when offline, when a sync is already
// running, or before the store is initialized. Failures of individual items
// are recorded in SyncErrors and do not stop the pass; only a store failure
// aborts it.
func (o *Orchestrator) SyncPendingData(ctx context.Context) (*SyncResult, error) {
	o.mu.Lock()
	switch {
	case !o.state.IsOnline:
		o.mu.Unlock()
		return &SyncResult{Skipped: true, SkipReason: SkipOffline}, nil
	case o.state.IsSyncing:
		o.mu.Unlock()
		return &SyncResult{Skipped: true, SkipReason: SkipAlreadySyncing}, nil
	case !o.store.Ready():
		o.mu.Unlock()
		return &SyncResult{Skipped: true, SkipReason: SkipNotReady}, nil
	}
	o.state.IsSyncing = true
	o.state.SyncErrors = []string{}
	o.mu.Unlock()
	o.emit()

	res := &SyncResult{}
	err := o.runSync(ctx, res)

	// The pass is over even when a store failure cut it short.
	now := o.now().UnixMilli()
	if serr := o.store.SetSetting(ctx, model.SettingLastSyncTime, now); serr != nil {
		o.logger.Warn("record last sync time failed", "error", serr)
	}
	o.mu.Lock()
	o.state.LastSyncTime = now
	o.mu.Unlock()

	o.mu.Lock()
	o.state.IsSyncing = false
	o.state.SyncErrors = append([]string{}, res.Errors...)
	o.mu.Unlock()

	o.RefreshPendingCounts(ctx)
	o.emit()

	o.logger.Info("sync finished",
		"itineraries_synced", res.ItinerariesSynced,
		"itineraries_failed", res.ItinerariesFailed,
		"messages_sent", res.MessagesSent,
		"messages_failed", res.MessagesFailed,
	)
	return res, err
}

func (o *Orchestrator) runSync(ctx context.Context, res *SyncResult) error {
	itineraries, err := o.store.ItinerariesByStatus(ctx, model.ItinerarySyncPending)
	if err != nil {
		return err
	}
	for _, it := range itineraries {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := o.remote.SyncItinerary(ctx, it); err != nil {
			res.ItinerariesFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("Failed to sync itinerary %s: %v", it.ID, err))
			continue
		}
		// An edit made during the round trip bumped the revision; that
		// record stays pending for the next pass.
		marked, err := o.store.MarkItinerarySynced(ctx, it.ID, it.Revision)
		if err != nil {
			return err
		}
		if marked {
			res.ItinerariesSynced++
		} else {
			o.logger.Debug("itinerary changed during sync", "id", it.ID, "revision", it.Revision)
		}
	}

	messages, err := o.store.MessagesByStatus(ctx, model.MessagePending)
	if err != nil {
		return err
	}
	for _, m := range messages {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		sent, err := o.send(ctx, m)
		switch {
		case errors.Is(err, errors.ErrStorageUnavailable), errors.Is(err, errors.ErrStorageWriteFailed):
			return err
		case err != nil:
			res.MessagesFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("Failed to send message %s: %v", m.ID, err))
		case sent:
			res.MessagesSent++
		}
	}
	return nil
}

// send delivers m and records the outcome. A send superseded by a newer
// send of the same message returns (false, nil) and records nothing.
func (o *Orchestrator) send(ctx context.Context, m *model.ChatMessage) (bool, error) {
	sendCtx, done := o.sends.begin(ctx, m.ID)
	defer done()

	sendErr := o.remote.SendMessage(sendCtx, m)
	if sendCtx.Err() != nil && ctx.Err() == nil {
		o.logger.Debug("message send superseded", "id", m.ID)
		return false, nil
	}

	if sendErr == nil {
		if _, err := o.store.MarkMessageSent(ctx, m.ID); err != nil {
			return false, err
		}
		return true, nil
	}

	updated, err := o.store.RecordMessageFailure(ctx, m.ID, sendErr.Error(), o.opts.MessageMaxRetries)
	if err != nil {
		return false, err
	}
	if updated != nil && updated.Status == model.MessageFailed {
		o.logger.Warn("message gave up after retries", "id", m.ID, "retries", updated.RetryCount)
	}
	return false, sendErr
}

// ResendMessage sends one message now, whatever the connection state says.
// A failed message is put back in the queue first. Any send of the same
// message already in flight is cancelled.
func (o *Orchestrator) ResendMessage(ctx context.Context, id string) (*model.ChatMessage, error) {
	m, err := o.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.NewNotFound("chat_messages", id)
	}
	if m.Status == model.MessageSent {
		return m, nil
	}
	if m.Status == model.MessageFailed {
		if m, err = o.store.ResetMessage(ctx, id); err != nil {
			return nil, err
		}
	}

	_, sendErr := o.send(ctx, m)
	if errors.Is(sendErr, errors.ErrStorageUnavailable) || errors.Is(sendErr, errors.ErrStorageWriteFailed) {
		return nil, sendErr
	}
	o.RefreshPendingCounts(ctx)

	latest, err := o.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return latest, sendErr
}

type send struct {
	cancel context.CancelFunc
}

// sendRegistry tracks the one live send per message id.
type sendRegistry struct {
	mu       sync.Mutex
	inflight map[string]*send
}

// begin registers a send of id, cancelling any previous one. done must be
// called when the send is over.
func (r *sendRegistry) begin(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	s := &send{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.inflight[id]; ok {
		prev.cancel()
	}
	r.inflight[id] = s
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if r.inflight[id] == s {
			delete(r.inflight, id)
		}
		r.mu.Unlock()
		cancel()
	}
}
