// Package tokenizer estimates the prompt token count of a chat history
// before the completion request is sent, so the turn can be rejected or
// balance-checked without paying for a round trip upstream.
package tokenizer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/apiforllm/chat-server-go/internal/model"
)

// Per-message framing overhead and the trailing assistant primer, matching
// the counting scheme of the upstream chat completion API.
const (
	tokensPerMessage = 3
	tokensTrailing   = 3
)

// Encoding counts the BPE tokens of a piece of text.
type Encoding interface {
	Count(text string) int
}

type tiktokenEncoding struct {
	tkm *tiktoken.Tiktoken
}

func (e *tiktokenEncoding) Count(text string) int {
	return len(e.tkm.Encode(text, nil, nil))
}

// heuristicEncoding approximates one token per four characters. Only used
// when no BPE vocabulary could be loaded at all, so a cold start without
// the encoding files degrades instead of failing every turn.
type heuristicEncoding struct{}

func (heuristicEncoding) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Estimator maps model names to encodings and sums chat histories.
type Estimator struct {
	mu    sync.Mutex
	cache map[string]Encoding

	// loadEncoding is swappable in tests to avoid fetching BPE files.
	loadEncoding func(modelName string) (Encoding, error)
}

func NewEstimator() *Estimator {
	return &Estimator{
		cache:        make(map[string]Encoding),
		loadEncoding: loadTiktoken,
	}
}

func loadTiktoken(modelName string) (Encoding, error) {
	tkm, err := tiktoken.EncodingForModel(modelName)
	if err == nil {
		return &tiktokenEncoding{tkm: tkm}, nil
	}
	// Unknown model names fall back to the encoding every current chat
	// model shares.
	tkm, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return nil, err
	}
	return &tiktokenEncoding{tkm: tkm}, nil
}

func (e *Estimator) encodingFor(modelName string) Encoding {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.cache[modelName]; ok {
		return enc
	}
	enc, err := e.loadEncoding(modelName)
	if err != nil {
		log.Warn().Err(err).Str("model", modelName).
			Msg("failed to load token encoding, using byte heuristic")
		enc = heuristicEncoding{}
	}
	e.cache[modelName] = enc
	return enc
}

// Estimate returns the prompt token count for a chat history: a fixed
// per-message overhead plus the encoded role and content of every turn,
// plus the trailing primer for the assistant's reply.
func (e *Estimator) Estimate(turns []model.ChatTurn, modelName string) int {
	enc := e.encodingFor(modelName)

	total := 0
	for _, turn := range turns {
		total += tokensPerMessage
		total += enc.Count(string(turn.Role))
		total += enc.Count(turn.Content)
	}
	return total + tokensTrailing
}
