package orch

import (
	"context"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/rs/zerolog/log"
)

// Speak sends text over the control socket when it is open and the codec
// is loaded, without waiting for any acknowledgement. Otherwise, or when
// the socket path fails, it falls back to an async REST talk task.
// The choice is made again on every call.
func (o *Orchestrator) Speak(ctx context.Context, text string) (domain.SpeakResult, error) {
	o.mu.Lock()
	live := o.current() == core.StateLive && o.session != nil
	var sid domain.SessionID
	if live {
		sid = o.session.SessionID
	}
	sock := o.socket
	o.mu.Unlock()
	if !live {
		return domain.SpeakResult{}, ErrNoSession
	}

	if sock != nil && sock.State() == core.ChannelOpen && o.Codec != nil && o.Codec.Loaded() {
		err := o.speakOverSocket(sock, text)
		if err == nil {
			return domain.SpeakResult{Transport: domain.SpeakViaSocket}, nil
		}
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("socket speak failed, falling back to REST")
	}

	task, err := o.API.Speak(ctx, domain.SpeakRequest{
		SessionID: sid,
		Text:      text,
		TaskType:  domain.TaskTypeTalk,
		TaskMode:  domain.TaskModeAsync,
	})
	if err != nil {
		return domain.SpeakResult{}, err
	}
	return domain.SpeakResult{Transport: domain.SpeakViaREST, TaskID: task.TaskID}, nil
}

func (o *Orchestrator) speakOverSocket(sock core.FrameSender, text string) error {
	frame, err := o.Codec.Encode(domain.SpeakText{Text: text})
	if err != nil {
		return err
	}
	return sock.TrySend(frame)
}

func (o *Orchestrator) Interrupt(ctx context.Context) error {
	return o.passThrough(ctx, o.API.Interrupt)
}

func (o *Orchestrator) StartListening(ctx context.Context) error {
	return o.passThrough(ctx, o.API.StartListening)
}

func (o *Orchestrator) StopListening(ctx context.Context) error {
	return o.passThrough(ctx, o.API.StopListening)
}

// KeepAlive resets the server-side idle timer of the session.
func (o *Orchestrator) KeepAlive(ctx context.Context) error {
	return o.passThrough(ctx, o.API.KeepAlive)
}

func (o *Orchestrator) passThrough(ctx context.Context, call func(context.Context, domain.SessionID) error) error {
	o.mu.Lock()
	if o.current() != core.StateLive || o.session == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	sid := o.session.SessionID
	o.mu.Unlock()
	return call(ctx, sid)
}
