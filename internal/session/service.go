package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-stt/internal/asr"
	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/protocol"
	"github.com/loqalabs/loqa-stt/internal/transcripts"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Service routes session events from the bus to per-session handlers. Each
// session runs on its own worker goroutine so one session's transcription
// never blocks another's audio ingestion; they contend only for the gate.
type Service struct {
	cfg        config.SessionConfig
	defaults   Defaults
	bus        *bus.Client
	backend    asr.Backend
	gate       *asr.Gate
	descriptor []byte
	store      *transcripts.Store
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	subs   []*nats.Subscription

	sessions map[string]*worker
	queue    int

	utterances   metric.Int64Counter
	decodeTime   metric.Float64Histogram
	gateWaitTime metric.Float64Histogram
}

type worker struct {
	handler *Handler
	events  chan event
	quit    chan struct{}
	once    sync.Once
}

// terminate asks the worker to exit. Safe to call more than once; takes
// effect after any event already being applied finishes.
func (w *worker) terminate() {
	w.once.Do(func() { close(w.quit) })
}

type event struct {
	chunk    *protocol.AudioChunk
	stop     bool
	language string
	control  bool
}

// NewService wires the shared backend, gate, and cached discovery payload
// into a session router. The store may be nil when transcript history is
// disabled.
func NewService(parent context.Context, cfg config.SessionConfig, defaults Defaults, busClient *bus.Client, backend asr.Backend, gate *asr.Gate, descriptor []byte, store *transcripts.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		defaults:   defaults,
		bus:        busClient,
		backend:    backend,
		gate:       gate,
		descriptor: descriptor,
		store:      store,
		log:        log.With(slog.String("component", "session")),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*worker),
		queue:      256,
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-stt/session")

	var err error
	s.utterances, err = meter.Int64Counter("loqa.stt.utterances",
		metric.WithDescription("Completed utterances"))
	if err != nil {
		return err
	}
	s.decodeTime, err = meter.Float64Histogram("loqa.stt.decode.seconds",
		metric.WithDescription("Backend transcription duration"))
	if err != nil {
		return err
	}
	s.gateWaitTime, err = meter.Float64Histogram("loqa.stt.gate.wait.seconds",
		metric.WithDescription("Time spent waiting on the transcription gate"))
	if err != nil {
		return err
	}
	gauge, err := meter.Int64ObservableGauge("loqa.stt.sessions.active",
		metric.WithDescription("Live sessions"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		s.mu.Lock()
		n := int64(len(s.sessions))
		s.mu.Unlock()
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}

func (s *Service) Start() error {
	conn := s.bus.Conn()

	subscriptions := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.WildcardAudio, s.handleAudio},
		{protocol.WildcardStop, s.handleStop},
		{protocol.WildcardControl, s.handleControl},
		{protocol.SubjectDescribe, s.handleDescribe},
	}
	for _, sub := range subscriptions {
		subscription, err := conn.Subscribe(sub.subject, sub.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.subject, err)
		}
		s.subs = append(s.subs, subscription)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

// sessionIDFromSubject extracts the id token from stt.session.<id>.<kind>.
func sessionIDFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 {
		return ""
	}
	return parts[2]
}

func (s *Service) handleAudio(msg *nats.Msg) {
	var chunk protocol.AudioChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		s.log.Warn("failed to decode audio chunk", slog.String("error", err.Error()))
		return
	}
	if chunk.SessionID == "" {
		chunk.SessionID = sessionIDFromSubject(msg.Subject)
	}
	if chunk.SessionID == "" {
		return
	}
	s.dispatch(chunk.SessionID, event{chunk: &chunk})
}

func (s *Service) handleStop(msg *nats.Msg) {
	var stop protocol.AudioStop
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &stop); err != nil {
			s.log.Warn("failed to decode audio stop", slog.String("error", err.Error()))
			return
		}
	}
	id := stop.SessionID
	if id == "" {
		id = sessionIDFromSubject(msg.Subject)
	}
	if id == "" {
		return
	}
	s.dispatch(id, event{stop: true})
}

func (s *Service) handleControl(msg *nats.Msg) {
	var ctl protocol.TranscribeControl
	if err := json.Unmarshal(msg.Data, &ctl); err != nil {
		s.log.Warn("failed to decode transcribe control", slog.String("error", err.Error()))
		return
	}
	id := ctl.SessionID
	if id == "" {
		id = sessionIDFromSubject(msg.Subject)
	}
	if id == "" {
		return
	}
	s.dispatch(id, event{control: true, language: ctl.Language})
}

// handleDescribe replies with the cached descriptor bytes, verbatim, for
// the lifetime of the process. Stateless with respect to sessions.
func (s *Service) handleDescribe(msg *nats.Msg) {
	if err := msg.Respond(s.descriptor); err != nil {
		s.log.Warn("failed to reply to describe", slog.String("error", err.Error()))
	}
}

// dispatch routes an event to the session's worker, creating it on first
// contact. The send never blocks; a session falling this far behind is
// treated like a slow consumer. Dropped chunks lose audio only, but a
// stop that cannot be queued would strand a spooled utterance, so it
// terminates the session instead.
func (s *Service) dispatch(id string, ev event) {
	s.mu.Lock()
	w, ok := s.sessions[id]
	if !ok {
		w = &worker{
			handler: NewHandler(id, s.backend, s.gate, s.defaults, s.cfg.SpoolDir, s.emitterFor(id), s.log),
			events:  make(chan event, s.queue),
			quit:    make(chan struct{}),
		}
		s.sessions[id] = w
		s.wg.Add(1)
		go s.runWorker(id, w)
	}
	select {
	case w.events <- ev:
	default:
		if ev.stop {
			s.log.Warn("session event queue full on stop, terminating session", slog.String("session", id))
			w.terminate()
		} else {
			s.log.Warn("session event queue full, dropping event", slog.String("session", id))
		}
	}
	s.mu.Unlock()
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Service) runWorker(id string, w *worker) {
	defer s.wg.Done()
	defer s.remove(id)
	defer w.handler.Close()
	defer func() {
		if s.store != nil {
			if err := s.store.EndSession(context.Background(), id); err != nil {
				s.log.Warn("failed to clear session history", slog.String("session", id), slog.String("error", err.Error()))
			}
		}
	}()

	idle := time.Duration(s.cfg.IdleTimeoutMS) * time.Millisecond
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-w.quit:
			return
		case <-timer.C:
			if w.handler.Recording() {
				s.log.Info("session expired mid-recording, releasing buffer", slog.String("session", id))
			}
			return
		case ev := <-w.events:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)

			if err := s.apply(w.handler, ev); err != nil {
				s.log.Error("terminating session", slog.String("session", id), slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Service) apply(h *Handler, ev event) error {
	switch {
	case ev.chunk != nil:
		return h.HandleChunk(*ev.chunk)
	case ev.stop:
		ctx := s.ctx
		if s.cfg.TranscribeTimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TranscribeTimeoutMS)*time.Millisecond)
			defer cancel()
		}
		return h.HandleStop(ctx)
	case ev.control:
		h.SetLanguage(ev.language)
		return nil
	}
	// unknown event kinds are ignored and the session stays open
	return nil
}

// emitterFor publishes the transcript reply for one session and records
// metrics and history.
func (s *Service) emitterFor(id string) func(Result) error {
	return func(result Result) error {
		data, err := json.Marshal(result.Transcript)
		if err != nil {
			return fmt.Errorf("marshal transcript: %w", err)
		}
		if err := s.bus.Conn().Publish(protocol.SubjectTranscript(id), data); err != nil {
			return fmt.Errorf("publish transcript: %w", err)
		}

		if s.utterances != nil {
			s.utterances.Add(s.ctx, 1)
			s.decodeTime.Record(s.ctx, result.Decode.Seconds())
			s.gateWaitTime.Record(s.ctx, result.GateWait.Seconds())
		}

		if s.store != nil {
			utterance := transcripts.Utterance{
				SessionID:    id,
				Text:         result.Transcript.Text,
				Language:     result.Transcript.Language,
				AudioSeconds: result.Audio.Seconds(),
				CreatedAt:    result.Transcript.Timestamp,
			}
			if err := s.store.Append(s.ctx, utterance); err != nil {
				s.log.Warn("failed to record utterance", slog.String("error", err.Error()))
			}
		}
		return nil
	}
}
