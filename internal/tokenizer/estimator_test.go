package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apiforllm/chat-server-go/internal/model"
)

// wordEncoding counts whitespace-separated words, keeping the test
// independent of BPE vocabulary files.
type wordEncoding struct{}

func (wordEncoding) Count(text string) int {
	return len(strings.Fields(text))
}

func newTestEstimator(loads *int) *Estimator {
	e := NewEstimator()
	e.loadEncoding = func(string) (Encoding, error) {
		if loads != nil {
			*loads++
		}
		return wordEncoding{}, nil
	}
	return e
}

func TestEstimate(t *testing.T) {
	t.Run("empty history still counts the trailing primer", func(t *testing.T) {
		e := newTestEstimator(nil)
		assert.Equal(t, 3, e.Estimate(nil, "gpt-3.5-turbo-16k-0613"))
	})

	t.Run("sums per-message overhead and encoded fields", func(t *testing.T) {
		e := newTestEstimator(nil)
		turns := []model.ChatTurn{
			{Role: model.RoleSystem, Content: "You are a helpful assistant."}, // 1 + 5
			{Role: model.RoleUser, Content: "hello there"},                    // 1 + 2
		}
		// 2*3 overhead + 9 encoded + 3 trailing
		assert.Equal(t, 18, e.Estimate(turns, "gpt-3.5-turbo-16k-0613"))
	})

	t.Run("caches the encoding per model", func(t *testing.T) {
		var loads int
		e := newTestEstimator(&loads)
		turns := []model.ChatTurn{{Role: model.RoleUser, Content: "hi"}}

		e.Estimate(turns, "gpt-4")
		e.Estimate(turns, "gpt-4")
		e.Estimate(turns, "gpt-3.5-turbo")

		assert.Equal(t, 2, loads)
	})

	t.Run("falls back to the byte heuristic when loading fails", func(t *testing.T) {
		e := NewEstimator()
		e.loadEncoding = func(string) (Encoding, error) {
			return nil, errors.New("no vocabulary")
		}
		turns := []model.ChatTurn{{Role: model.RoleUser, Content: "abcdefgh"}}
		// 3 + ceil(4/4) + ceil(8/4) + 3
		assert.Equal(t, 9, e.Estimate(turns, "gpt-4"))
	})
}

func TestHeuristicEncoding(t *testing.T) {
	enc := heuristicEncoding{}
	assert.Equal(t, 0, enc.Count(""))
	assert.Equal(t, 1, enc.Count("abc"))
	assert.Equal(t, 2, enc.Count("abcdefg"))
}
