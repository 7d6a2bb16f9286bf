package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/model"
)

var (
	ErrSessionNotFound = errors.New("player session not found")
	ErrTooManySessions = errors.New("too many player sessions")
	ErrManagerClosed   = errors.New("player manager closed")
)

const maxReapInterval = time.Minute

// StemLoader loads the decoded stems of a project.
type StemLoader interface {
	Load(ctx context.Context, project *model.Project) (*Stems, error)
}

// ManagerConfig bounds the number and lifetime of sessions.
type ManagerConfig struct {
	MaxSessions int
	IdleTimeout time.Duration
	Engine      EngineOptions
}

// Session is one player: an engine on its own render graph.
type Session struct {
	ID     string
	Engine *Engine
	Graph  *PCMGraph
	Output *Broadcaster

	stems  *Stems
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Session) close() {
	s.cancel()
	s.wg.Wait()
	s.Output.Close()
}

// Manager owns the open player sessions.
type Manager struct {
	loader StemLoader
	cfg    ManagerConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(loader StemLoader, cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		loader:   loader,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Open loads the project's stems and starts a paused session at position 0.
// Buffers already decoded for another session of the same project are reused.
func (m *Manager) Open(ctx context.Context, project *model.Project) (*Session, error) {
	if err := m.checkCapacity(); err != nil {
		return nil, err
	}

	stems := m.sharedStems(project.ID)
	if stems == nil {
		var err error
		stems, err = m.loader.Load(ctx, project)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.New().String()
	out := NewBroadcaster()
	graph := NewPCMGraph(out)
	sctx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		ID:     id,
		Engine: NewEngine(id, project, graph, stems, m.cfg.Engine),
		Graph:  graph,
		Output: out,
		stems:  stems,
		cancel: cancel,
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		graph.Run(sctx)
	}()
	go func() {
		defer s.wg.Done()
		s.Engine.Run(sctx)
	}()
	m.sessions[id] = s

	log.Info().Str("session_id", id).Str("project_id", project.ID).Msg("player session opened")
	return s, nil
}

func (m *Manager) checkCapacity() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return ErrTooManySessions
	}
	return nil
}

func (m *Manager) sharedStems(projectID string) *Stems {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Engine.Project().ID == projectID {
			return s.stems
		}
	}
	return nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	log.Info().Str("session_id", id).Msg("player session closed")
	return nil
}

// CloseProject closes every session playing the given project.
func (m *Manager) CloseProject(projectID string) int {
	m.mu.Lock()
	var victims []*Session
	for id, s := range m.sessions {
		if s.Engine.Project().ID == projectID {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range victims {
		s.close()
	}
	return len(victims)
}

// CloseAll stops every session and rejects further opens.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.close()
	}
}

// Run reaps idle sessions until ctx is cancelled. A session is idle when no
// command arrived within IdleTimeout and nobody listens to its stream.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	interval := m.cfg.IdleTimeout / 2
	if interval > maxReapInterval {
		interval = maxReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.ReapIdle(time.Now()); n > 0 {
				log.Info().Int("count", n).Msg("reaped idle player sessions")
			}
		}
	}
}

// ReapIdle closes sessions idle since before now - IdleTimeout.
func (m *Manager) ReapIdle(now time.Time) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.Engine.LastUsed().Before(cutoff) && s.Output.ListenerCount() == 0 {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
	}
	return len(idle)
}
