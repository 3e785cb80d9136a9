package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Avatar/internal/app/capture"
	"github.com/dkeye/Avatar/internal/app/media"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 5 * time.Second

// StepFailure records an optional start step that failed. The session
// keeps running without the capability the step provides.
type StepFailure struct {
	Step string
	Err  error
}

func (f StepFailure) Error() string { return fmt.Sprintf("%s: %v", f.Step, f.Err) }

func (f StepFailure) Unwrap() error { return f.Err }

type step struct {
	name     string
	required bool
	run      func(ctx context.Context) error
}

// startRun carries the state of one StartSession call.
type startRun struct {
	o    *Orchestrator
	gen  uint64
	req  domain.StartRequest
	info *domain.SessionInfo

	media  *media.Channel
	socket core.ControlSocket
}

func (r *startRun) steps() []step {
	return []step{
		{name: "new_session", required: true, run: r.newSession},
		{name: "media_bind", required: true, run: r.bindMedia},
		{name: "media_prepare", required: false, run: r.prepareMedia},
		{name: "start_session", required: true, run: r.startSession},
		{name: "media_connect", required: true, run: r.connectMedia},
		{name: "socket_connect", required: false, run: r.connectSocket},
		{name: "codec_load", required: false, run: r.loadCodec},
		{name: "capture_start", required: false, run: r.startCapture},
	}
}

func (r *startRun) execute(ctx context.Context) error {
	for _, s := range r.steps() {
		err := s.run(ctx)
		if err != nil && s.required {
			return r.fail(ctx, s.name, err)
		}
		if !r.alive() {
			log.Info().Str("module", "orch").Str("step", s.name).Msg("start aborted")
			return ErrAborted
		}
		if err != nil {
			r.degrade(s.name, err)
			continue
		}
		log.Debug().Str("module", "orch").Str("step", s.name).Msg("step done")
	}
	return nil
}

func (r *startRun) alive() bool {
	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	return r.o.starting(r.gen)
}

// publish runs attach under the lock if this run still owns the session.
func (r *startRun) publish(attach func()) bool {
	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	if !r.o.starting(r.gen) {
		return false
	}
	attach()
	return true
}

func (r *startRun) degrade(name string, err error) {
	r.o.mu.Lock()
	r.o.degraded = append(r.o.degraded, StepFailure{Step: name, Err: err})
	r.o.mu.Unlock()
	log.Warn().Err(err).Str("module", "orch").Str("step", name).Msg("optional step failed, session degraded")
}

// fail releases whatever the run acquired and closes the session.
func (r *startRun) fail(ctx context.Context, name string, err error) error {
	o := r.o
	wrapped := fmt.Errorf("%s: %w", name, err)
	log.Error().Err(err).Str("module", "orch").Str("step", name).Msg("required step failed")

	o.mu.Lock()
	if !o.starting(r.gen) {
		o.mu.Unlock()
		return wrapped
	}
	if tErr := o.transition(core.EventFail); tErr != nil {
		log.Error().Err(tErr).Str("module", "orch").Msg("fail")
	}
	h := o.detach()
	o.mu.Unlock()

	releaseCapture(h.capture)
	closeSocket(h.socket)
	disconnectMedia(h.media)
	if h.session != nil {
		o.releaseRemote(ctx, h.session.SessionID)
	}
	return wrapped
}

// releaseRemote stops a remote session nobody owns anymore. It runs even
// when ctx is already cancelled.
func (o *Orchestrator) releaseRemote(ctx context.Context, sid domain.SessionID) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.API.StopSession(cctx, sid); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("cleanup stop failed")
	}
}

func (r *startRun) newSession(ctx context.Context) error {
	info, err := r.o.API.NewSession(ctx, r.req)
	if err != nil {
		return err
	}
	if info == nil {
		return errors.New("empty session info")
	}
	r.info = info
	if !r.publish(func() { r.o.session = info }) {
		log.Warn().Str("module", "orch").Str("sid", string(info.SessionID)).Msg("session created after stop, releasing")
		r.o.releaseRemote(ctx, info.SessionID)
		return nil
	}
	log.Info().Str("module", "orch").Str("sid", string(info.SessionID)).Bool("paid", info.IsPaid).Msg("session created")
	return nil
}

func (r *startRun) startSession(ctx context.Context) error {
	if err := r.o.API.StartSession(ctx, r.info.SessionID); err != nil {
		return err
	}
	r.publish(func() {
		if err := r.o.transition(core.EventNegotiated); err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("negotiated")
		}
	})
	return nil
}

func (r *startRun) connectSocket(ctx context.Context) error {
	if r.o.NewSocket == nil {
		log.Info().Str("module", "orch").Msg("control socket disabled")
		return nil
	}
	sock := r.o.NewSocket(*r.info, r.o.Bus)
	if !r.publish(func() { r.o.socket = sock }) {
		return nil
	}
	r.socket = sock
	return sock.Connect(ctx)
}

func (r *startRun) loadCodec(ctx context.Context) error {
	if r.o.Codec == nil {
		return nil
	}
	return r.o.Codec.Load(ctx)
}

func (r *startRun) startCapture(ctx context.Context) error {
	if r.o.NewCapture == nil || r.socket == nil || r.o.Codec == nil {
		log.Info().Str("module", "orch").Msg("voice capture disabled")
		return nil
	}
	p := &capture.Pipeline{
		Source: r.o.NewCapture(),
		Codec:  r.o.Codec,
		Socket: r.socket,
		Config: r.o.Capture,
		Warmup: r.o.Warmup,
	}
	if !r.publish(func() { r.o.capture = p }) {
		return nil
	}
	return p.Start(ctx)
}
