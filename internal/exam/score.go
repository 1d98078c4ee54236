package exam

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// DefaultPassMark is the minimum score that earns a minted certificate.
const DefaultPassMark = 70

var ErrNoQuestions = errors.New("exam has no questions")

// Answer holds a submitted or expected answer. The exam generator emits
// both strings and numbers, so either JSON form is accepted.
type Answer string

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Answer(n.String())
	return nil
}

// Question is a single exam question together with the student's answer.
type Question struct {
	Type       string   `json:"type"`
	Question   string   `json:"question"`
	Options    []string `json:"options,omitempty"`
	Answer     Answer   `json:"answer"`
	UserAnswer Answer   `json:"userAnswer"`
}

// Correct reports whether the submitted answer matches the key exactly.
func (q Question) Correct() bool {
	return q.UserAnswer == q.Answer
}

// Score returns round(100 * correct / total). There is no partial credit.
func Score(questions []Question) (int, error) {
	if len(questions) == 0 {
		return 0, ErrNoQuestions
	}

	return percentage(countCorrect(questions), len(questions)), nil
}

func countCorrect(questions []Question) int {
	correct := 0
	for _, q := range questions {
		if q.Correct() {
			correct++
		}
	}
	return correct
}

func percentage(correct, total int) int {
	return int(math.Round(100 * float64(correct) / float64(total)))
}

// Passed reports whether score reaches the pass mark.
func Passed(score, passMark int) bool {
	return score >= passMark
}

// Summary describes a graded exam.
type Summary struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
	Score   int `json:"score"`
}

// Grade scores the questions and returns the counts alongside the score.
func Grade(questions []Question) (Summary, error) {
	if len(questions) == 0 {
		return Summary{}, ErrNoQuestions
	}
	correct := countCorrect(questions)
	return Summary{Total: len(questions), Correct: correct, Score: percentage(correct, len(questions))}, nil
}

// NormalizeYesNo lower-cases yes/no answers so "Yes" and "yes" compare equal.
func NormalizeYesNo(questions []Question) []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		if q.Type == "yes_no" {
			q.Answer = Answer(strings.ToLower(strings.TrimSpace(string(q.Answer))))
			q.UserAnswer = Answer(strings.ToLower(strings.TrimSpace(string(q.UserAnswer))))
		}
		out[i] = q
	}
	return out
}
