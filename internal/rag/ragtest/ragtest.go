// Package ragtest provides deterministic test doubles for the embedding
// provider, so ingestion and retrieval can be exercised without a model.
package ragtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// Dim is the vector size produced by Embedder.
const Dim = 64

// stopwords are dropped before hashing so questions and statements that share
// content words land close together.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "what": true,
	"of": true, "to": true, "in": true, "and": true, "or": true, "for": true,
	"on": true, "how": true, "does": true, "do": true, "this": true, "that": true,
}

// Embedder hashes lowercase content words into a normalised bag-of-words
// vector. Texts that share words have a positive cosine similarity.
type Embedder struct {
	mu    sync.Mutex
	calls int
	texts int
	errs  []error
}

// FailWith queues errors; each subsequent Embed call returns the next one
// until the queue is drained.
func (e *Embedder) FailWith(errs ...error) {
	e.mu.Lock()
	e.errs = append(e.errs, errs...)
	e.mu.Unlock()
}

// Calls returns the number of Embed calls made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns the total number of texts embedded successfully.
func (e *Embedder) Texts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

// Embed implements rag.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		e.mu.Unlock()
		return nil, err
	}
	e.texts += len(texts)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

// Vector returns the bag-of-words embedding of text.
func Vector(text string) []float32 {
	v := make([]float32, Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%Dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
