package flow

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrFlowInProgress indicates the user already has an active session.
	// Policy: a new flow start is rejected, never silently replaced, so a
	// user's in-progress secret material is not discarded behind their back.
	ErrFlowInProgress = errors.New("another flow is already in progress")
	// ErrSessionRetired indicates the session ended (timeout, cancel or
	// completion) before the operation could run.
	ErrSessionRetired = errors.New("flow session already retired")
)

// Registry owns all in-flight flow sessions, keyed by user. It is the only
// mutable shared state in the custody core and is safe for concurrent
// Begin/Deliver/Cancel across users. Events for one user are serialized
// through that user's single session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	log      *slog.Logger
}

// NewRegistry builds an empty session registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		sessions: make(map[int64]*Session),
		log:      log,
	}
}

// Begin creates a session for the user, rejecting when one already exists.
func (r *Registry) Begin(userID int64, kind Kind) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[userID]; ok {
		r.log.Info("flow start rejected, session active",
			slog.Int64("user_id", userID),
			slog.String("active_kind", string(existing.Kind)),
			slog.String("requested_kind", string(kind)),
		)
		return nil, ErrFlowInProgress
	}

	s := &Session{
		UserID: userID,
		Kind:   kind,
		step:   StepStart,
	}
	r.sessions[userID] = s

	r.log.Info("flow started", slog.Int64("user_id", userID), slog.String("kind", string(kind)))

	return s, nil
}

// Active reports the kind of the user's current session, if any.
func (r *Registry) Active(userID int64) (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return "", false
	}
	return s.Kind, true
}

// Count returns the number of in-flight sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Arm marks the session as waiting for the next event matching m. Only one
// arm is active per session; deadline expiry retires the session, wipes its
// secrets and then invokes onTimeout.
func (r *Registry) Arm(s *Session, step Step, m Matcher, deadline time.Duration, handler HandlerFunc, onTimeout TimeoutFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return ErrSessionRetired
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	s.advance(step)
	s.gen++
	gen := s.gen
	s.armed = true
	s.matcher = m
	s.handler = handler
	s.onTimeout = onTimeout
	s.timer = time.AfterFunc(deadline, func() {
		r.expire(s, gen)
	})

	return nil
}

// Deliver routes an inbound event to the armed session that accepts it.
// Returns false when no session is waiting for this event; the caller may
// then treat the event as an ordinary command.
func (r *Registry) Deliver(ev Event) bool {
	r.mu.Lock()
	s, ok := r.sessions[ev.UserID]
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	if s.retired || !s.armed || !s.matcher.Matches(ev) {
		s.mu.Unlock()
		return false
	}

	// Consume the arm: the matched event owns this step exclusively.
	s.armed = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	handler := s.handler
	s.handler = nil
	s.onTimeout = nil
	s.mu.Unlock()

	// The arm was consumed atomically above, so no second handler can run
	// for this session until the current one re-arms or retires it.
	handler(s, ev)

	return true
}

// Finish retires the session after a terminal step.
func (r *Registry) Finish(s *Session, outcome Step) {
	s.mu.Lock()
	s.advance(outcome)
	s.mu.Unlock()

	r.retire(s)

	r.log.Info("flow finished",
		slog.Int64("user_id", s.UserID),
		slog.String("kind", string(s.Kind)),
		slog.String("outcome", string(outcome)),
	)
}

// Cancel retires the user's session, if any, and reports whether one existed.
// Used for explicit /cancel and for terminal failures.
func (r *Registry) Cancel(userID int64, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.retire(s)

	r.log.Info("flow cancelled",
		slog.Int64("user_id", userID),
		slog.String("kind", string(s.Kind)),
		slog.String("reason", reason),
	)

	return true
}

// Abort retires a specific session on a terminal failure.
func (r *Registry) Abort(s *Session, reason string) {
	r.retire(s)

	r.log.Info("flow aborted",
		slog.Int64("user_id", s.UserID),
		slog.String("kind", string(s.Kind)),
		slog.String("reason", reason),
	)
}

// Drain retires every in-flight session and wipes its secrets. Called on
// process shutdown so key material never outlives the bot loop.
func (r *Registry) Drain(reason string) int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.retire(s)
	}

	if len(sessions) > 0 {
		r.log.Info("flow sessions drained",
			slog.Int("count", len(sessions)),
			slog.String("reason", reason),
		)
	}

	return len(sessions)
}

func (r *Registry) expire(s *Session, gen uint64) {
	s.mu.Lock()
	if s.retired || !s.armed || s.gen != gen {
		// A delivery raced the timer and won.
		s.mu.Unlock()
		return
	}
	onTimeout := s.onTimeout
	s.mu.Unlock()

	r.retire(s)

	r.log.Info("flow timed out",
		slog.Int64("user_id", s.UserID),
		slog.String("kind", string(s.Kind)),
		slog.String("step", string(s.Step())),
	)

	if onTimeout != nil {
		onTimeout(s)
	}
}

// retire removes the session from the table, disarms it and wipes secrets.
// Safe to call multiple times.
func (r *Registry) retire(s *Session) {
	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return
	}
	s.retired = true
	s.armed = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.handler = nil
	s.onTimeout = nil
	s.Data.Wipe()
	s.mu.Unlock()

	r.mu.Lock()
	if current, ok := r.sessions[s.UserID]; ok && current == s {
		delete(r.sessions, s.UserID)
	}
	r.mu.Unlock()
}
