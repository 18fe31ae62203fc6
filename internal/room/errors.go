package room

import "errors"

var (
	ErrUnknownRoom          = errors.New("unknown room")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrRoomClosed           = errors.New("room has been evicted")
	ErrQuizNotActive        = errors.New("quiz is not active")
	ErrQuizNotStarted       = errors.New("quiz has not been started")
	ErrInvalidQuestionIndex = errors.New("question index out of range")
	ErrNoQuestions          = errors.New("quiz needs at least one question")
)
