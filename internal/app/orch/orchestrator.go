// Package orch drives one avatar session at a time: negotiation, channel
// startup, degraded-mode bookkeeping and ordered teardown.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Avatar/internal/app/capture"
	"github.com/dkeye/Avatar/internal/app/events"
	"github.com/dkeye/Avatar/internal/app/media"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/dkeye/Avatar/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession = errors.New("no live session")
	// ErrAborted is returned by StartSession when StopSession or a media
	// disconnect ended the session before it went live.
	ErrAborted = errors.New("session start aborted")
)

// Orchestrator owns the media channel, the control socket and the capture
// pipeline of the current session. Collaborators are plain fields so they
// can be swapped in tests; nil NewSocket, Codec or NewCapture disable the
// corresponding optional step.
type Orchestrator struct {
	API        core.ControlPlane
	Bus        *events.Bus
	NewMedia   func() core.MediaTransport
	NewSocket  func(info domain.SessionInfo, sink core.EventSink) core.ControlSocket
	Codec      core.FrameCodec
	NewCapture func() core.AudioSource

	Capture        core.CaptureConfig
	Warmup         time.Duration
	ConnectTimeout time.Duration
	// Defaults fill the empty fields of every start request.
	Defaults domain.StartRequest

	mu       sync.Mutex
	state    core.SessionState
	gen      uint64
	session  *domain.SessionInfo
	media    *media.Channel
	socket   core.ControlSocket
	capture  *capture.Pipeline
	degraded []StepFailure
}

// handles are the per-session resources, detached from the orchestrator
// under the lock and released after it is dropped.
type handles struct {
	session *domain.SessionInfo
	media   *media.Channel
	socket  core.ControlSocket
	capture *capture.Pipeline
}

func (o *Orchestrator) Events() *events.Bus { return o.Bus }

func (o *Orchestrator) State() core.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current()
}

// Session returns the info of the current session, if any.
func (o *Orchestrator) Session() (domain.SessionInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return domain.SessionInfo{}, false
	}
	return *o.session, true
}

// Degradations lists the optional start steps that failed for the current
// session. An empty list means full voice mode.
func (o *Orchestrator) Degradations() []StepFailure {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StepFailure(nil), o.degraded...)
}

// StartSession negotiates a new session and brings up its channels.
// Failures of required steps are returned after every acquired resource
// has been released; optional failures only degrade the session.
func (o *Orchestrator) StartSession(ctx context.Context, req domain.StartRequest) (*domain.SessionInfo, error) {
	o.mu.Lock()
	if err := o.transition(core.EventStart); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.gen++
	gen := o.gen
	o.session = nil
	o.degraded = nil
	o.mu.Unlock()

	run := &startRun{o: o, gen: gen, req: withDefaults(req, o.Defaults)}
	if err := run.execute(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.starting(gen) {
		return nil, ErrAborted
	}
	if err := o.transition(core.EventConnected); err != nil {
		return nil, err
	}
	info := *o.session
	log.Info().
		Str("module", "orch").
		Str("sid", string(info.SessionID)).
		Int("degraded_steps", len(o.degraded)).
		Msg("session live")
	return &info, nil
}

// StopSession releases capture first, then stops the remote session, then
// closes the control socket and the media channel. It is a no-op when
// there is nothing to stop. A control-plane error is returned after local
// teardown has completed.
func (o *Orchestrator) StopSession(ctx context.Context) error {
	o.mu.Lock()
	switch o.current() {
	case core.StateIdle, core.StateClosed, core.StateClosing:
		o.mu.Unlock()
		return nil
	}
	if err := o.transition(core.EventStop); err != nil {
		o.mu.Unlock()
		return err
	}
	h := o.detach()
	o.mu.Unlock()

	var stopErr error
	releaseCapture(h.capture)
	if h.session != nil {
		if err := o.API.StopSession(ctx, h.session.SessionID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(h.session.SessionID)).Msg("control plane stop failed")
			stopErr = err
		}
	}
	closeSocket(h.socket)
	disconnectMedia(h.media)

	o.mu.Lock()
	if err := o.transition(core.EventStopped); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("stop")
	}
	o.mu.Unlock()
	log.Info().Str("module", "orch").Msg("session stopped")
	return stopErr
}

// current treats the zero value as idle.
func (o *Orchestrator) current() core.SessionState {
	if o.state == "" {
		return core.StateIdle
	}
	return o.state
}

// transition must be called with o.mu held.
func (o *Orchestrator) transition(ev core.SessionEvent) error {
	from := o.current()
	next, err := core.Transition(from, ev)
	if err != nil {
		return err
	}
	o.state = next
	metrics.SessionTransitions.WithLabelValues(string(next)).Inc()
	log.Debug().Str("module", "orch").Str("from", string(from)).Str("event", string(ev)).Str("to", string(next)).Msg("transition")
	return nil
}

// starting reports whether gen is still the session being started.
// Must be called with o.mu held.
func (o *Orchestrator) starting(gen uint64) bool {
	if gen != o.gen {
		return false
	}
	s := o.current()
	return s == core.StateNegotiating || s == core.StateConnecting
}

// detach takes every handle out of the orchestrator. Must be called with
// o.mu held.
func (o *Orchestrator) detach() handles {
	h := handles{session: o.session, media: o.media, socket: o.socket, capture: o.capture}
	o.session, o.media, o.socket, o.capture = nil, nil, nil, nil
	return h
}

func releaseCapture(p *capture.Pipeline) {
	if p != nil {
		p.Stop()
	}
}

func closeSocket(s core.ControlSocket) {
	if s != nil {
		s.Close()
	}
}

func disconnectMedia(m *media.Channel) {
	if m != nil {
		m.Disconnect()
	}
}

func withDefaults(req, def domain.StartRequest) domain.StartRequest {
	if req.AvatarName == "" {
		req.AvatarName = def.AvatarName
	}
	if req.Quality == "" {
		req.Quality = def.Quality
	}
	if req.Voice == nil && def.Voice != nil {
		v := *def.Voice
		req.Voice = &v
	}
	if req.KnowledgeID == "" {
		req.KnowledgeID = def.KnowledgeID
	}
	if req.KnowledgeBase == "" {
		req.KnowledgeBase = def.KnowledgeBase
	}
	if req.Language == "" {
		req.Language = def.Language
	}
	if req.ActivityIdleTimeout == 0 {
		req.ActivityIdleTimeout = def.ActivityIdleTimeout
	}
	if !req.DisableIdleTimeout {
		req.DisableIdleTimeout = def.DisableIdleTimeout
	}
	return req
}
