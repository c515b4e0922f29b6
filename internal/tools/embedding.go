package tools

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
)

// LexicalEmbedding returns a deterministic bag-of-words embedding that needs
// no model server. Words are hashed into dims buckets; the vector is
// L2-normalised. It is good enough to rank a small curated corpus.
func LexicalEmbedding(dims int) chromem.EmbeddingFunc {
	if dims < 8 {
		dims = 8
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		// Bias bucket keeps empty text from producing a zero vector.
		vec[0] = 1
		for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			vec[1+int(h.Sum32()%uint32(dims-1))]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
		return vec, nil
	}
}

// NewEmbedding selects the embedding function for the knowledge base.
func NewEmbedding(provider, model, baseURL string) chromem.EmbeddingFunc {
	if provider == "ollama" {
		return chromem.NewEmbeddingFuncOllama(model, baseURL)
	}
	return LexicalEmbedding(256)
}
