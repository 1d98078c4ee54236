package exam

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildQuestions(total, correct int) []Question {
	qs := make([]Question, total)
	for i := range qs {
		qs[i] = Question{Type: "multiple_choice", Answer: "a", UserAnswer: "b"}
		if i < correct {
			qs[i].UserAnswer = "a"
		}
	}
	return qs
}

func Test_Score(t *testing.T) {
	var tests = map[string]struct {
		total    int
		correct  int
		expected int
	}{
		"all correct":         {total: 4, correct: 4, expected: 100},
		"none correct":        {total: 3, correct: 0, expected: 0},
		"rounds down":         {total: 3, correct: 1, expected: 33},
		"rounds up":           {total: 3, correct: 2, expected: 67},
		"half rounds up":      {total: 8, correct: 1, expected: 13},
		"single question":     {total: 1, correct: 1, expected: 100},
		"twenty five of 27":   {total: 27, correct: 25, expected: 93},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			score, err := Score(buildQuestions(test.total, test.correct))
			require.NoError(t, err)
			assert.Equal(t, test.expected, score)
		})
	}
}

func Test_ScoreMatchesFormula(t *testing.T) {
	for n := 1; n <= 40; n++ {
		for k := 0; k <= n; k++ {
			score, err := Score(buildQuestions(n, k))
			require.NoError(t, err)
			expected := int(math.Round(100 * float64(k) / float64(n)))
			if score != expected {
				t.Fatalf("n=%d k=%d: expected %d, got %d", n, k, expected, score)
			}
		}
	}
}

func Test_ScoreRejectsEmptyExam(t *testing.T) {
	_, err := Score(nil)
	require.True(t, errors.Is(err, ErrNoQuestions))

	_, err = Grade([]Question{})
	require.ErrorIs(t, err, ErrNoQuestions)
}

func Test_AnswerAcceptsNumbers(t *testing.T) {
	var q Question
	err := json.Unmarshal([]byte(`{"type":"multiple_choice","question":"2+2?","answer":4,"userAnswer":"4"}`), &q)
	require.NoError(t, err)
	assert.True(t, q.Correct(), fmt.Sprintf("expected %q == %q", q.Answer, q.UserAnswer))
}

func Test_Grade(t *testing.T) {
	summary, err := Grade(buildQuestions(5, 3))
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 5, Correct: 3, Score: 60}, summary)
	assert.False(t, Passed(summary.Score, DefaultPassMark))
	assert.True(t, Passed(70, DefaultPassMark))
}

func Test_GradeAgreesWithScore(t *testing.T) {
	for total := 1; total <= 30; total++ {
		for correct := 0; correct <= total; correct++ {
			qs := buildQuestions(total, correct)
			score, err := Score(qs)
			require.NoError(t, err)
			summary, err := Grade(qs)
			require.NoError(t, err)
			assert.Equal(t, score, summary.Score, "%d of %d", correct, total)
			assert.Equal(t, correct, summary.Correct)
		}
	}

	_, err := Grade(nil)
	require.ErrorIs(t, err, ErrNoQuestions)
}

func Test_NormalizeYesNo(t *testing.T) {
	qs := NormalizeYesNo([]Question{
		{Type: "yes_no", Answer: "yes", UserAnswer: " Yes"},
		{Type: "multiple_choice", Answer: "Paris", UserAnswer: "paris"},
	})
	score, err := Score(qs)
	require.NoError(t, err)
	assert.Equal(t, 50, score)
}
