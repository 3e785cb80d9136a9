package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
)

// journal records side effects across fakes in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(s string) int {
	n := 0
	for _, e := range j.all() {
		if e == s {
			n++
		}
	}
	return n
}

// gate blocks a call until released. A nil gate never blocks.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait() {
	if g == nil {
		return
	}
	close(g.entered)
	<-g.release
}

type fakeAPI struct {
	j         *journal
	newErr    error
	startErr  error
	stopErr   error
	speaks    []domain.SpeakRequest
	newGate   *gate
	startGate *gate
}

func (a *fakeAPI) NewSession(context.Context, domain.StartRequest) (*domain.SessionInfo, error) {
	a.j.add("api.new")
	a.newGate.wait()
	if a.newErr != nil {
		return nil, a.newErr
	}
	return &domain.SessionInfo{SessionID: "s1", URL: "wss://media", AccessToken: "at"}, nil
}

func (a *fakeAPI) StartSession(context.Context, domain.SessionID) error {
	a.j.add("api.start")
	a.startGate.wait()
	return a.startErr
}

func (a *fakeAPI) StopSession(context.Context, domain.SessionID) error {
	a.j.add("api.stop")
	return a.stopErr
}

func (a *fakeAPI) Speak(_ context.Context, req domain.SpeakRequest) (*domain.TaskInfo, error) {
	a.j.add("api.speak")
	a.speaks = append(a.speaks, req)
	return &domain.TaskInfo{TaskID: "task-1"}, nil
}

func (a *fakeAPI) Interrupt(context.Context, domain.SessionID) error {
	a.j.add("api.interrupt")
	return nil
}

func (a *fakeAPI) StartListening(context.Context, domain.SessionID) error {
	a.j.add("api.start_listening")
	return nil
}

func (a *fakeAPI) StopListening(context.Context, domain.SessionID) error {
	a.j.add("api.stop_listening")
	return nil
}

func (a *fakeAPI) KeepAlive(context.Context, domain.SessionID) error {
	a.j.add("api.keep_alive")
	return nil
}

type fakeTrack struct {
	id   string
	kind domain.TrackKind
}

func (t fakeTrack) ID() string             { return t.id }
func (t fakeTrack) Kind() domain.TrackKind { return t.kind }

type fakeTransport struct {
	j           *journal
	connectErr  error
	tracks      []domain.Track
	connectGate *gate

	mu       sync.Mutex
	onData   func([]byte)
	onSub    func(domain.Track)
	onUnsub  func(domain.Track)
	onClosed func(string)
	closed   bool
}

func (t *fakeTransport) PrepareConnection(context.Context, string, string) error {
	t.j.add("media.prepare")
	return nil
}

func (t *fakeTransport) Connect(context.Context, string, string) error {
	t.j.add("media.connect")
	t.connectGate.wait()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("transport closed")
	}
	for _, tr := range t.tracks {
		t.onSub(tr)
	}
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.j.add("media.disconnect")
	t.drop("client")
	return nil
}

// drop simulates the transport going away.
func (t *fakeTransport) drop(reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fn := t.onClosed
	t.mu.Unlock()
	fn(reason)
}

func (t *fakeTransport) OnDataReceived(fn func([]byte))            { t.onData = fn }
func (t *fakeTransport) OnTrackSubscribed(fn func(domain.Track))   { t.onSub = fn }
func (t *fakeTransport) OnTrackUnsubscribed(fn func(domain.Track)) { t.onUnsub = fn }
func (t *fakeTransport) OnDisconnected(fn func(string))            { t.onClosed = fn }

type fakeSocket struct {
	j          *journal
	connectErr error
	sendErr    error

	mu    sync.Mutex
	state core.ChannelState
	sent  []core.Frame
}

func (s *fakeSocket) Connect(context.Context) error {
	s.j.add("socket.connect")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		s.state = core.ChannelClosed
		return s.connectErr
	}
	s.state = core.ChannelOpen
	return nil
}

func (s *fakeSocket) State() core.ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSocket) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != core.ChannelOpen {
		return errors.New("closed")
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSocket) Close() {
	s.j.add("socket.close")
	s.mu.Lock()
	s.state = core.ChannelClosed
	s.mu.Unlock()
}

func (s *fakeSocket) frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Frame(nil), s.sent...)
}

type fakeCodec struct {
	j       *journal
	loadErr error
	loaded  bool
}

func (c *fakeCodec) Load(context.Context) error {
	c.j.add("codec.load")
	if c.loadErr != nil {
		return c.loadErr
	}
	c.loaded = true
	return nil
}

func (c *fakeCodec) Loaded() bool { return c.loaded }

func (c *fakeCodec) Encode(f domain.OutboundFrame) (core.Frame, error) {
	switch v := f.(type) {
	case domain.SpeakText:
		return core.Frame(v.Text), nil
	case domain.AudioChunk:
		return core.Frame(v.PCM), nil
	}
	return nil, errors.New("unknown frame")
}

type fakeSource struct {
	j        *journal
	startErr error
}

func (s *fakeSource) Start(context.Context, core.CaptureConfig, func([]float32)) error {
	s.j.add("capture.start")
	return s.startErr
}

func (s *fakeSource) Close() error {
	s.j.add("capture.close")
	return nil
}
