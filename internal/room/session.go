package room

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"labsync/internal/metrics"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

// Session owns one room's state. Every operation takes the room mutex,
// applies a single transition and publishes its events before releasing it,
// so peers observe events in the order the state changed.
type Session struct {
	id        string
	createdAt time.Time
	publisher interfaces.Publisher
	now       func() time.Time
	intn      func(int) int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu           sync.Mutex
	closed       bool
	module       string
	participants map[string]*types.Participant
	lab          types.Document
	quiz         quiz
	molecule     types.Document
	idleSince    time.Time
}

func newSession(id string, r *Registry) *Session {
	now := r.now()
	return &Session{
		id:           id,
		createdAt:    now,
		publisher:    r.publisher,
		now:          r.now,
		intn:         r.intn,
		logger:       r.logger.With("room_id", id),
		metrics:      r.metrics,
		module:       types.DefaultModule,
		participants: make(map[string]*types.Participant),
		lab:          types.Document{},
		quiz:         newQuiz(),
		molecule:     types.Document{},
		idleSince:    now,
	}
}

// ID returns the room key
func (s *Session) ID() string { return s.id }

// Join adds or refreshes a participant. The joiner receives room_state; the
// existing members receive user_joined. A re-join keeps the colour.
func (s *Session) Join(participantID, displayName string) (types.Participant, types.RoomSnapshot, error) {
	name, err := types.NormalizeDisplayName(displayName)
	if err != nil {
		return types.Participant{}, types.RoomSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.Participant{}, types.RoomSnapshot{}, ErrRoomClosed
	}

	p, rejoin := s.participants[participantID]
	if rejoin {
		p.Name = name
	} else {
		used := make(map[string]bool, len(s.participants))
		for _, other := range s.participants {
			used[other.Color] = true
		}
		p = &types.Participant{
			ID:       participantID,
			Name:     name,
			Color:    pickColor(used, s.intn),
			JoinedAt: s.now(),
		}
		s.participants[participantID] = p
		s.metrics.AddParticipants(1)
	}
	s.idleSince = time.Time{}

	joined := *p
	snapshot := s.snapshotLocked()

	s.publish(types.EventUserJoined, joined, s.othersLocked(participantID), false)
	s.publish(types.EventRoomState, snapshot, []string{participantID}, false)

	s.logger.Info("participant joined", "sid", participantID, "name", name, "rejoin", rejoin)
	return joined, snapshot, nil
}

// Leave removes a participant and marks the room idle once it is empty
func (s *Session) Leave(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRoomClosed
	}
	if _, ok := s.participants[participantID]; !ok {
		return ErrUnknownParticipant
	}

	delete(s.participants, participantID)
	s.metrics.AddParticipants(-1)
	if len(s.participants) == 0 {
		s.idleSince = s.now()
	}

	s.publish(types.EventUserLeft, types.UserLeftData{ParticipantID: participantID}, s.othersLocked(participantID), false)
	s.logger.Info("participant left", "sid", participantID, "remaining", len(s.participants))
	return nil
}

// MoveCursor stores the position and sends a volatile update to the others
func (s *Session) MoveCursor(participantID string, x, y float64) error {
	if err := (types.CursorData{X: x, Y: y}).Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.participantLocked(participantID)
	if err != nil {
		return err
	}

	p.Cursor = types.Cursor{X: x, Y: y}
	s.publish(types.EventCursorUpdate,
		types.CursorUpdateData{ParticipantID: participantID, X: x, Y: y},
		s.othersLocked(participantID), true)
	return nil
}

// ChangeModule replaces the active module and tells everyone, initiator
// included
func (s *Session) ChangeModule(participantID, module string) error {
	if !types.IsValidModule(module) {
		return types.ErrInvalidModule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.participantLocked(participantID); err != nil {
		return err
	}

	s.module = module
	s.publish(types.EventModuleChanged,
		types.ModuleChangedData{Module: module, By: participantID},
		s.allLocked(), false)
	return nil
}

// RelayLabAction passes payload through to the other participants and keeps
// it as the room's last lab state
func (s *Session) RelayLabAction(participantID string, payload types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.participantLocked(participantID); err != nil {
		return err
	}

	s.lab = payload.Clone()
	s.publish(types.EventLabUpdate, payload.Clone(), s.othersLocked(participantID), false)
	return nil
}

// QuizStart activates a quiz. While one is active the call changes nothing
// but the current state is broadcast again.
func (s *Session) QuizStart(participantID string, questions []types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.participantLocked(participantID); err != nil {
		return err
	}

	started, err := s.quiz.start(questions)
	if err != nil {
		return err
	}
	if started {
		s.logger.Info("quiz started", "by", participantID, "questions", len(questions))
	}

	state := s.quiz.snapshot()
	s.publish(types.EventQuizUpdate,
		types.QuizUpdateData{Type: types.QuizUpdateStart, State: &state},
		s.allLocked(), false)
	return nil
}

// QuizAnswer records an answer. Peers only learn that the participant
// answered, never the answer itself.
func (s *Session) QuizAnswer(participantID string, questionIndex int, answer any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.participantLocked(participantID); err != nil {
		return err
	}

	if err := s.quiz.answer(participantID, questionIndex, answer); err != nil {
		return err
	}

	idx := questionIndex
	s.publish(types.EventQuizUpdate,
		types.QuizUpdateData{Type: types.QuizUpdateUserAnswered, ParticipantID: participantID, QuestionIndex: &idx},
		s.allLocked(), false)
	return nil
}

// QuizNext advances the quiz. Reaching the question count finishes it and
// the finished signal is sent exactly once.
func (s *Session) QuizNext(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.participantLocked(participantID); err != nil {
		return err
	}

	index, finished, err := s.quiz.next()
	if err != nil {
		return err
	}

	update := types.QuizUpdateData{Type: types.QuizUpdateNextQuestion, Index: &index}
	if finished {
		state := s.quiz.snapshot()
		update = types.QuizUpdateData{Type: types.QuizUpdateFinished, Index: &index, State: &state}
		s.logger.Info("quiz finished")
	}
	s.publish(types.EventQuizUpdate, update, s.allLocked(), false)
	return nil
}

// QuizScore stores externally computed scores for an active or finished quiz
func (s *Session) QuizScore(participantID string, scores map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.participantLocked(participantID); err != nil {
		return err
	}

	if err := s.quiz.setScores(scores); err != nil {
		return err
	}
	s.publish(types.EventQuizUpdate,
		types.QuizUpdateData{Type: types.QuizUpdateScores, Scores: s.quiz.snapshot().Scores},
		s.allLocked(), false)
	return nil
}

// UpdateMolecule replaces the shared molecule document wholesale
func (s *Session) UpdateMolecule(participantID string, structure types.Document) error {
	if err := types.ValidateDocumentSize(structure); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.participantLocked(participantID); err != nil {
		return err
	}

	s.molecule = structure.Clone()
	s.publish(types.EventMoleculeUpdate,
		types.MoleculeUpdateData{Structure: structure.Clone(), By: participantID},
		s.othersLocked(participantID), false)
	return nil
}

// Snapshot returns a deep copy of the room
func (s *Session) Snapshot() types.RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Answers returns a copy of the recorded answers for one question
func (s *Session) Answers(questionIndex int) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.quiz.answers[questionIndex]))
	for id, a := range s.quiz.answers[questionIndex] {
		out[id] = a
	}
	return out
}

// Has reports whether participantID is in the room
func (s *Session) Has(participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[participantID]
	return ok
}

// Len returns the participant count
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// Closed reports whether the registry has evicted this room
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) participantLocked(participantID string) (*types.Participant, error) {
	if s.closed {
		return nil, ErrRoomClosed
	}
	p, ok := s.participants[participantID]
	if !ok {
		return nil, ErrUnknownParticipant
	}
	return p, nil
}

func (s *Session) othersLocked(exclude string) []string {
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Session) allLocked() []string {
	return s.othersLocked("")
}

func (s *Session) publish(eventType string, data any, recipients []string, volatile bool) {
	if len(recipients) == 0 || s.publisher == nil {
		return
	}
	s.publisher.Publish(types.Event{
		RoomID:     s.id,
		Type:       eventType,
		Data:       data,
		Recipients: recipients,
		Volatile:   volatile,
	})
}

func (s *Session) snapshotLocked() types.RoomSnapshot {
	participants := make(map[string]types.Participant, len(s.participants))
	for id, p := range s.participants {
		participants[id] = *p
	}
	return types.RoomSnapshot{
		ID:            s.id,
		ActiveModule:  s.module,
		CreatedAt:     s.createdAt,
		Participants:  participants,
		LabState:      s.lab.Clone(),
		QuizState:     s.quiz.snapshot(),
		MoleculeState: s.molecule.Clone(),
	}
}

// evictIfIdle closes the session when it has been empty for longer than
// grace. Callers hold the registry lock.
func (s *Session) evictIfIdle(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.participants) > 0 || s.idleSince.IsZero() {
		return false
	}
	if now.Sub(s.idleSince) <= grace {
		return false
	}
	s.closed = true
	return true
}
