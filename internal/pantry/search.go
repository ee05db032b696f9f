package pantry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
)

// Index ranks the recipe corpus against free-text queries. With an embedder
// it ranks by cosine similarity over corpus vectors computed on first use;
// without one, or when embedding fails, it falls back to keyword overlap.
type Index struct {
	recipes  []Recipe
	embedder embedding.Embedder

	mu      sync.Mutex
	vectors [][]float64 // parallel to recipes, nil until first vector search
}

// NewIndex builds an index over the corpus. embedder may be nil.
func NewIndex(recipes []Recipe, embedder embedding.Embedder) *Index {
	return &Index{recipes: recipes, embedder: embedder}
}

// Recipes returns the corpus in its file order.
func (ix *Index) Recipes() []Recipe {
	out := make([]Recipe, len(ix.recipes))
	copy(out, ix.recipes)
	return out
}

// Search returns up to limit recipes, best match first. An empty query
// returns the head of the corpus.
func (ix *Index) Search(ctx context.Context, query string, limit int) []Recipe {
	if limit <= 0 {
		limit = 5
	}
	if limit > len(ix.recipes) {
		limit = len(ix.recipes)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return ix.Recipes()[:limit]
	}

	if ix.embedder != nil {
		ranked, err := ix.vectorSearch(ctx, query, limit)
		if err == nil {
			return ranked
		}
		slog.Debug("vector recipe search failed, using keywords", "error", err)
	}
	return ix.keywordSearch(query, limit)
}

func (ix *Index) keywordSearch(query string, limit int) []Recipe {
	tokens := tokenize(query)
	type scored struct {
		recipe Recipe
		score  int
	}
	ranked := make([]scored, 0, len(ix.recipes))
	for _, r := range ix.recipes {
		if s := keywordScore(r, tokens); s > 0 {
			ranked = append(ranked, scored{recipe: r, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]Recipe, 0, limit)
	for _, s := range ranked {
		if len(out) == limit {
			break
		}
		out = append(out, s.recipe)
	}
	return out
}

// keywordScore counts token hits across the recipe. Name hits weigh double.
func keywordScore(r Recipe, tokens []string) int {
	name := strings.ToLower(r.Name)
	body := strings.ToLower(r.text())
	score := 0
	for _, tok := range tokens {
		if strings.Contains(name, tok) {
			score += 2
		}
		if strings.Contains(body, tok) {
			score++
		}
	}
	return score
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?\"'()")
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func (ix *Index) vectorSearch(ctx context.Context, query string, limit int) ([]Recipe, error) {
	vectors, err := ix.corpusVectors(ctx)
	if err != nil {
		return nil, err
	}
	qv, err := ix.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for the query")
	}

	type scored struct {
		idx int
		sim float64
	}
	ranked := make([]scored, len(ix.recipes))
	for i := range ix.recipes {
		ranked[i] = scored{idx: i, sim: cosine(qv[0], vectors[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	out := make([]Recipe, 0, limit)
	for _, s := range ranked[:limit] {
		out = append(out, ix.recipes[s.idx])
	}
	return out, nil
}

// corpusVectors embeds the whole corpus once and caches the result.
func (ix *Index) corpusVectors(ctx context.Context) ([][]float64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.vectors != nil {
		return ix.vectors, nil
	}
	texts := make([]string, len(ix.recipes))
	for i, r := range ix.recipes {
		texts[i] = r.text()
	}
	vectors, err := ix.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vectors) != len(ix.recipes) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d recipes", len(vectors), len(ix.recipes))
	}
	ix.vectors = vectors
	return vectors, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
