// Package broker connects transports to rooms: it decodes inbound events
// into room operations, tracks which room each participant is in and fans
// room events back out to connections.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"labsync/internal/logging"
	"labsync/internal/metrics"
	"labsync/internal/room"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

// Broker dispatches inbound events. A participant is in at most one room.
type Broker struct {
	rooms     *room.Registry
	publisher interfaces.Publisher
	limiter   *RateLimiter
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu         sync.RWMutex
	membership map[string]string // participantID -> roomID
}

// Option configures a Broker
type Option func(*Broker)

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// WithRateLimiter replaces the default per-participant limiter
func WithRateLimiter(rl *RateLimiter) Option {
	return func(b *Broker) { b.limiter = rl }
}

// New creates a broker over rooms. publisher carries error events back to
// senders and is normally the same Fanout the rooms publish through.
func New(rooms *room.Registry, publisher interfaces.Publisher, opts ...Option) *Broker {
	b := &Broker{
		rooms:      rooms,
		publisher:  publisher,
		limiter:    NewRateLimiter(DefaultEventsPerMinute, time.Minute, nil),
		logger:     logging.NewNop(),
		membership: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatch applies one inbound event from participantID. Invalid input and
// rate limiting are reported to the sender as an error event; references to
// rooms or participants that are gone are logged and otherwise ignored.
func (b *Broker) Dispatch(ctx context.Context, participantID string, env types.InboundEnvelope) error {
	err := b.dispatch(ctx, participantID, env)

	result := "ok"
	switch {
	case err == nil:
	case isStale(err):
		result = "stale"
		b.logger.Warn("event for untracked room or participant",
			"sid", participantID, "room_id", env.RoomID, "event", env.Type, "err", err)
	default:
		result = "rejected"
		b.logger.Debug("event rejected",
			"sid", participantID, "room_id", env.RoomID, "event", env.Type, "err", err)
		b.sendError(participantID, env, err)
	}
	b.metrics.InboundEvent(env.Type, result)
	return err
}

// Disconnect removes the participant from its room immediately
func (b *Broker) Disconnect(participantID string) {
	b.limiter.Forget(participantID)
	if err := b.leave(participantID); err != nil && !errors.Is(err, ErrNotInRoom) {
		b.logger.Warn("leave on disconnect failed", "sid", participantID, "err", err)
	}
}

// RoomOf returns the room the participant is currently in
func (b *Broker) RoomOf(participantID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	roomID, ok := b.membership[participantID]
	return roomID, ok
}

// RunCleanup prunes idle rate-limit windows every interval until ctx is done
func (b *Broker) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.limiter.Cleanup()
		}
	}
}

func (b *Broker) dispatch(_ context.Context, participantID string, env types.InboundEnvelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	// cursor streams are high rate by nature and already volatile
	if env.Type != types.EventCursorMove && !b.limiter.Allow(participantID) {
		return ErrRateLimited
	}

	switch env.Type {
	case types.EventJoinRoom:
		var data types.JoinData
		if len(env.Data) > 0 {
			if err := decode(env, &data); err != nil {
				return err
			}
		}
		return b.join(participantID, env.RoomID, data.Name)

	case types.EventLeaveRoom:
		return b.leave(participantID)

	case types.EventCursorMove:
		var data types.CursorData
		if err := decode(env, &data); err != nil {
			return err
		}
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.MoveCursor(participantID, data.X, data.Y)
		})

	case types.EventModuleChange:
		var data types.ModuleData
		if err := decode(env, &data); err != nil {
			return err
		}
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.ChangeModule(participantID, data.Module)
		})

	case types.EventLabAction:
		var data types.Document
		if err := decode(env, &data); err != nil {
			return err
		}
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.RelayLabAction(participantID, data)
		})

	case types.EventQuizAction:
		return b.quizAction(participantID, env)

	case types.EventMoleculeAction:
		var data types.MoleculeData
		if err := decode(env, &data); err != nil {
			return err
		}
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.UpdateMolecule(participantID, data.Structure)
		})
	}
	return fmt.Errorf("%w: %w", ErrInvalidEvent, types.ErrInvalidEventType)
}

func (b *Broker) quizAction(participantID string, env types.InboundEnvelope) error {
	var action types.QuizActionData
	if err := decode(env, &action); err != nil {
		return err
	}

	switch action.Type {
	case types.QuizActionStart:
		var p types.QuizStartPayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.QuizStart(participantID, p.Questions)
		})
	case types.QuizActionAnswer:
		var p types.QuizAnswerPayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.QuizAnswer(participantID, p.QuestionIndex, p.Answer)
		})
	case types.QuizActionNext:
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.QuizNext(participantID)
		})
	case types.QuizActionScore:
		var p types.QuizScorePayload
		if err := decodePayload(action, &p); err != nil {
			return err
		}
		return b.withSession(env.RoomID, func(s *room.Session) error {
			return s.QuizScore(participantID, p.Scores)
		})
	}
	return fmt.Errorf("%w: unknown quiz action %q", ErrInvalidEvent, action.Type)
}

// join moves the participant into roomID, leaving any other room first
func (b *Broker) join(participantID, roomID, name string) error {
	if strings.TrimSpace(name) == "" {
		name = types.DefaultDisplayName
	}
	// reject before leaving so a bad join keeps the current membership
	if _, err := types.NormalizeDisplayName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if !types.IsValidRoomID(roomID) {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, types.ErrInvalidRoomID)
	}

	if current, ok := b.RoomOf(participantID); ok && current != roomID {
		if err := b.leave(participantID); err != nil && !isStale(err) {
			return err
		}
	}

	// an evicted session is retried once against the fresh one
	for attempt := 0; attempt < 2; attempt++ {
		s, err := b.rooms.GetOrCreate(roomID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		_, _, err = s.Join(participantID, name)
		if errors.Is(err, room.ErrRoomClosed) {
			continue
		}
		if errors.Is(err, types.ErrInvalidDisplayName) {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		if err != nil {
			return err
		}

		b.mu.Lock()
		b.membership[participantID] = roomID
		b.mu.Unlock()
		return nil
	}
	return room.ErrRoomClosed
}

func (b *Broker) leave(participantID string) error {
	b.mu.Lock()
	roomID, ok := b.membership[participantID]
	delete(b.membership, participantID)
	b.mu.Unlock()
	if !ok {
		return ErrNotInRoom
	}

	s, err := b.rooms.Get(roomID)
	if err != nil {
		return err
	}
	return s.Leave(participantID)
}

// withSession runs op against an existing room. Closed sessions are
// re-resolved once; a closed room has no members so the retry normally ends
// in ErrUnknownRoom.
func (b *Broker) withSession(roomID string, op func(*room.Session) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := b.rooms.Get(roomID)
		if err != nil {
			return err
		}
		err = op(s)
		if errors.Is(err, room.ErrRoomClosed) {
			continue
		}
		if isValidationError(err) {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		return err
	}
	return room.ErrRoomClosed
}

func (b *Broker) sendError(participantID string, env types.InboundEnvelope, err error) {
	if b.publisher == nil {
		return
	}
	b.publisher.Publish(types.Event{
		RoomID:     env.RoomID,
		Type:       types.EventError,
		Data:       types.ErrorData{Event: env.Type, Message: err.Error()},
		Recipients: []string{participantID},
	})
}

func decode(env types.InboundEnvelope, target any) error {
	if err := types.DecodeData(env.Data, target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

func decodePayload(action types.QuizActionData, target any) error {
	if err := types.DecodeData(action.Payload, target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

// isStale matches the disconnect races that are expected and only logged
func isStale(err error) bool {
	return errors.Is(err, room.ErrUnknownRoom) ||
		errors.Is(err, room.ErrUnknownParticipant) ||
		errors.Is(err, room.ErrRoomClosed) ||
		errors.Is(err, ErrNotInRoom)
}

func isValidationError(err error) bool {
	return errors.Is(err, types.ErrInvalidModule) ||
		errors.Is(err, types.ErrInvalidCoordinate) ||
		errors.Is(err, types.ErrContentTooLarge) ||
		errors.Is(err, room.ErrQuizNotActive) ||
		errors.Is(err, room.ErrQuizNotStarted) ||
		errors.Is(err, room.ErrInvalidQuestionIndex) ||
		errors.Is(err, room.ErrNoQuestions)
}
