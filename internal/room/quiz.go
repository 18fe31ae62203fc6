package room

import (
	"maps"
	"slices"

	"labsync/pkg/types"
)

// quiz is the per-room quiz state machine: idle -> active -> finished.
// current never exceeds len(questions).
type quiz struct {
	status    string
	questions []types.Document
	current   int
	answers   map[int]map[string]any
	scores    map[string]float64
}

func newQuiz() quiz {
	return quiz{
		status:  types.QuizIdle,
		answers: make(map[int]map[string]any),
		scores:  make(map[string]float64),
	}
}

func (q *quiz) active() bool { return q.status == types.QuizActive }

// start resets and activates the quiz. It reports false when a quiz was
// already active, in which case nothing changes.
func (q *quiz) start(questions []types.Document) (bool, error) {
	if q.active() {
		return false, nil
	}
	if len(questions) == 0 {
		return false, ErrNoQuestions
	}
	cloned := make([]types.Document, len(questions))
	for i, doc := range questions {
		cloned[i] = doc.Clone()
	}
	*q = newQuiz()
	q.status = types.QuizActive
	q.questions = cloned
	return true, nil
}

// answer records the participant's answer, overwriting any earlier one
func (q *quiz) answer(participantID string, index int, value any) error {
	if !q.active() {
		return ErrQuizNotActive
	}
	if index < 0 || index >= len(q.questions) {
		return ErrInvalidQuestionIndex
	}
	if q.answers[index] == nil {
		q.answers[index] = make(map[string]any)
	}
	q.answers[index][participantID] = value
	return nil
}

// next advances one question and reports whether the quiz just finished
func (q *quiz) next() (int, bool, error) {
	if !q.active() {
		return 0, false, ErrQuizNotActive
	}
	q.current++
	if q.current >= len(q.questions) {
		q.current = len(q.questions)
		q.status = types.QuizFinished
		return q.current, true, nil
	}
	return q.current, false, nil
}

func (q *quiz) setScores(scores map[string]float64) error {
	if q.status == types.QuizIdle {
		return ErrQuizNotStarted
	}
	for id, s := range scores {
		q.scores[id] = s
	}
	return nil
}

// snapshot never includes answer contents, only who answered
func (q *quiz) snapshot() types.QuizSnapshot {
	questions := make([]types.Document, len(q.questions))
	for i, doc := range q.questions {
		questions[i] = doc.Clone()
	}

	answered := make(map[int][]string, len(q.answers))
	for idx, byParticipant := range q.answers {
		ids := slices.Sorted(maps.Keys(byParticipant))
		answered[idx] = ids
	}

	return types.QuizSnapshot{
		Status:          q.status,
		Active:          q.active(),
		CurrentQuestion: q.current,
		Questions:       questions,
		Answered:        answered,
		Scores:          maps.Clone(q.scores),
	}
}
