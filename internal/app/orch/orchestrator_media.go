package orch

import (
	"context"

	"github.com/dkeye/Avatar/internal/app/media"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/rs/zerolog/log"
)

// bindMedia builds the media channel; its constructor registers every
// transport handler before anything connects.
func (r *startRun) bindMedia(_ context.Context) error {
	gen := r.gen
	ch := media.NewChannel(r.o.NewMedia(), r.o.Bus, func(reason string) {
		r.o.OnMediaDisconnect(gen, reason)
	})
	if r.publish(func() { r.o.media = ch }) {
		r.media = ch
	}
	return nil
}

func (r *startRun) prepareMedia(ctx context.Context) error {
	if r.media == nil {
		return nil
	}
	return r.media.Prepare(ctx, r.info.URL, r.info.AccessToken)
}

func (r *startRun) connectMedia(ctx context.Context) error {
	if r.media == nil {
		return nil
	}
	if t := r.o.ConnectTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return r.media.Connect(ctx, r.info.URL, r.info.AccessToken)
}

// OnMediaDisconnect ends the session of generation gen after the media
// transport went away on its own. Disconnects caused by StopSession or by
// a failed start are ignored here since those paths tear down themselves.
func (o *Orchestrator) OnMediaDisconnect(gen uint64, reason string) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	switch o.current() {
	case core.StateLive, core.StateConnecting:
	default:
		o.mu.Unlock()
		return
	}
	if err := o.transition(core.EventDisconnect); err != nil {
		o.mu.Unlock()
		log.Error().Err(err).Str("module", "orch").Msg("disconnect")
		return
	}
	h := o.detach()
	o.mu.Unlock()

	sid := ""
	if h.session != nil {
		sid = string(h.session.SessionID)
	}
	log.Warn().Str("module", "orch").Str("sid", sid).Str("reason", reason).Msg("media disconnected, session closed")
	releaseCapture(h.capture)
	closeSocket(h.socket)
}
