package agent

import (
	"fmt"
	"strconv"
	"strings"
)

// Game phases.
const (
	PhaseQuestion = "question"
	PhaseFinished = "finished"
)

// GameAnswerPrefix is the callback payload prefix for quiz answer buttons:
// "game:answer:<question>:<option>".
const GameAnswerPrefix = "game:answer:"

// QuizQuestion is one multiple-choice question.
type QuizQuestion struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"` // index into Options
}

func defaultQuestions() []QuizQuestion {
	return []QuizQuestion{
		{
			Prompt:  "Which study technique spaces reviews out over growing intervals?",
			Options: []string{"Cramming", "Spaced repetition", "Highlighting"},
			Answer:  1,
		},
		{
			Prompt:  "Recalling material from memory without looking is called?",
			Options: []string{"Active recall", "Skimming", "Transcribing"},
			Answer:  0,
		},
		{
			Prompt:  "Explaining a concept in simple terms to find gaps is the ___ technique.",
			Options: []string{"Pomodoro", "Leitner", "Feynman"},
			Answer:  2,
		},
	}
}

// quizGame holds one user's in-progress quiz. Owned by LLMManager under its
// lock; methods are not safe for unlocked concurrent use.
type quizGame struct {
	questions     []QuizQuestion
	index         int
	score         int
	done          bool
	lastMessageID string
}

func newQuizGame(questions []QuizQuestion) *quizGame {
	return &quizGame{questions: questions}
}

func (g *quizGame) finished() bool { return g.done }

func (g *quizGame) phase() string {
	if g.done {
		return PhaseFinished
	}
	return PhaseQuestion
}

// currentQuestionResponse renders the current question with its answer
// keyboard.
func (g *quizGame) currentQuestionResponse() *EnhancedResponse {
	q := g.questions[g.index]
	text := fmt.Sprintf("Question %d/%d:\n%s", g.index+1, len(g.questions), q.Prompt)

	keyboard := make([][]Button, 0, len(q.Options))
	for i, opt := range q.Options {
		keyboard = append(keyboard, []Button{{
			Text: opt,
			Data: fmt.Sprintf("%s%d:%d", GameAnswerPrefix, g.index, i),
		}})
	}

	return &EnhancedResponse{
		Segments: []string{text},
		Game:     &GameMeta{Phase: PhaseQuestion, Keyboard: keyboard},
	}
}

// advance consumes one answer (button callback or typed option text) and
// returns the next turn's response. A press on an already-answered question's
// keyboard returns an already-delivered marker so nothing is resent.
func (g *quizGame) advance(input string) *EnhancedResponse {
	choice, stale := g.parseAnswer(input)
	if stale {
		return &EnhancedResponse{
			Game: &GameMeta{
				Phase:            g.phase(),
				AlreadyDelivered: true,
				MessageID:        g.lastMessageID,
			},
		}
	}
	if choice < 0 {
		resp := g.currentQuestionResponse()
		resp.Segments = append([]string{"Please pick one of the options."}, resp.Segments...)
		return resp
	}

	q := g.questions[g.index]
	var verdict string
	if choice == q.Answer {
		g.score++
		verdict = "Correct!"
	} else {
		verdict = fmt.Sprintf("Not quite — the answer was %s.", q.Options[q.Answer])
	}

	g.index++
	if g.index >= len(g.questions) {
		g.done = true
		summary := fmt.Sprintf("%s\n\nGame over! You scored %d/%d.", verdict, g.score, len(g.questions))
		return &EnhancedResponse{
			Segments: []string{summary},
			Game:     &GameMeta{Phase: PhaseFinished},
		}
	}

	next := g.currentQuestionResponse()
	next.Segments = append([]string{verdict}, next.Segments...)
	return next
}

// parseAnswer resolves input to an option index. Returns (-1, false) when the
// input matches nothing, and stale=true when a callback targets a question
// other than the current one.
func (g *quizGame) parseAnswer(input string) (choice int, stale bool) {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, GameAnswerPrefix) {
		rest := strings.TrimPrefix(input, GameAnswerPrefix)
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return -1, false
		}
		qIdx, err1 := strconv.Atoi(parts[0])
		opt, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return -1, false
		}
		if qIdx != g.index {
			return -1, true
		}
		if opt < 0 || opt >= len(g.questions[g.index].Options) {
			return -1, false
		}
		return opt, false
	}

	for i, opt := range g.questions[g.index].Options {
		if strings.EqualFold(input, opt) {
			return i, false
		}
	}
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(g.questions[g.index].Options) {
		return n - 1, false
	}
	return -1, false
}
