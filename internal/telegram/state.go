package telegram

import (
	"sync"

	"github.com/dreamwire/TGMediaBot/internal/models"
)

// Step is where a chat currently is in the generation dialogue.
type Step string

const (
	StepIdle             Step = "idle"
	StepSelectingOptions Step = "selecting_options"
	StepAwaitingImage    Step = "awaiting_image"
	StepAwaitingPrompt   Step = "awaiting_prompt"
	StepSubmitting       Step = "submitting"
)

// Session is the per-chat dialogue state. It is always handled by value
// outside the manager; mutations go through Update. LastJobID and
// LastJobMode identify the most recent submission so a later status check
// polls the provider that actually ran it.
type Session struct {
	Step        Step
	Mode        models.Mode
	AspectRatio string
	Duration    int
	ImageURL    string
	LastJobID   string
	LastJobMode models.Mode
}

// StateManager keeps sessions keyed by chat id behind one mutex. Handlers
// never share a Session pointer: Get copies out, Update mutates in place
// under the lock.
type StateManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{sessions: make(map[int64]*Session)}
}

// Get returns a copy of the chat's session, creating an idle one on first
// contact.
func (s *StateManager) Get(chatID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.session(chatID)
}

// Update applies fn to the chat's session under the lock.
func (s *StateManager) Update(chatID int64, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.session(chatID))
}

// BeginSubmit moves the chat into the submitting step. It returns false when
// the chat already has a job in flight, which is how double submits are
// refused.
func (s *StateManager) BeginSubmit(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(chatID)
	if sess.Step == StepSubmitting {
		return false
	}
	sess.Step = StepSubmitting
	return true
}

// FinishSubmit returns the chat to idle and records which job ran under
// which mode, so a later status check knows the provider to ask.
func (s *StateManager) FinishSubmit(chatID int64, mode models.Mode, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(chatID)
	sess.Step = StepIdle
	sess.ImageURL = ""
	if jobID != "" {
		sess.LastJobID = jobID
		sess.LastJobMode = mode
	}
}

// Reset discards everything except the last job reference, which a status
// check still needs after a /cancel.
func (s *StateManager) Reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lastID string
	var lastMode models.Mode
	if sess, ok := s.sessions[chatID]; ok {
		lastID = sess.LastJobID
		lastMode = sess.LastJobMode
	}
	s.sessions[chatID] = &Session{Step: StepIdle, LastJobID: lastID, LastJobMode: lastMode}
}

// session must be called with the lock held.
func (s *StateManager) session(chatID int64) *Session {
	sess, ok := s.sessions[chatID]
	if !ok {
		sess = &Session{Step: StepIdle}
		s.sessions[chatID] = sess
	}
	return sess
}
