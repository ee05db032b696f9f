package pantry

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
)

func TestIndex_KeywordSearch(t *testing.T) {
	ix := NewIndex(searchCorpus(), nil)
	ctx := context.Background()

	got := ix.Search(ctx, "beef tacos tonight", 3)
	if len(got) != 1 || got[0].Name != "Beef Tacos" {
		t.Errorf("Search(beef tacos) = %v, want only Beef Tacos", recipeNames(got))
	}

	got = ix.Search(ctx, "", 2)
	if len(got) != 2 || got[0].Name != "Beef Tacos" || got[1].Name != "Lentil Curry" {
		t.Errorf("empty query = %v, want corpus head", recipeNames(got))
	}

	got = ix.Search(ctx, "quark strudel", 5)
	if len(got) != 0 {
		t.Errorf("unmatched query = %v, want no results", recipeNames(got))
	}
}

func TestIndex_KeywordSearchWeighsNameHits(t *testing.T) {
	corpus := []Recipe{
		{Name: "Bean Soup", Ingredients: []string{"beans", "onion"}},
		{Name: "Chili", Ingredients: []string{"beans", "beef", "tomatoes"}, Description: "bean-heavy stew"},
	}
	ix := NewIndex(corpus, nil)

	got := ix.Search(context.Background(), "bean", 2)
	if len(got) != 2 || got[0].Name != "Bean Soup" {
		t.Errorf("Search(bean) = %v, want the name match first", recipeNames(got))
	}
}

func TestIndex_VectorRanking(t *testing.T) {
	corpus := searchCorpus()
	emb := &fakeEmbedder{vectors: map[string][]float64{
		corpus[0].text(): {1, 0, 0},
		corpus[1].text(): {0, 1, 0},
		corpus[2].text(): {0, 0, 1},
		"something warm": {0, 0.9, 0.1},
	}}
	ix := NewIndex(corpus, emb)

	got := ix.Search(context.Background(), "something warm", 2)
	if len(got) != 2 || got[0].Name != "Lentil Curry" {
		t.Errorf("Search = %v, want the closest vector first", recipeNames(got))
	}
}

func TestIndex_VectorCorpusEmbeddedOnce(t *testing.T) {
	corpus := searchCorpus()
	emb := &fakeEmbedder{vectors: map[string][]float64{}}
	ix := NewIndex(corpus, emb)
	ctx := context.Background()

	ix.Search(ctx, "first", 1)
	ix.Search(ctx, "second", 1)

	// 1 corpus embedding plus 2 query embeddings.
	if emb.calls != 3 {
		t.Errorf("embedder called %d times, want 3", emb.calls)
	}
}

func TestIndex_VectorFailureFallsBackToKeywords(t *testing.T) {
	ix := NewIndex(searchCorpus(), &fakeEmbedder{err: errors.New("backend down")})

	got := ix.Search(context.Background(), "tacos", 3)
	if len(got) != 1 || got[0].Name != "Beef Tacos" {
		t.Errorf("Search with broken embedder = %v, want keyword results", recipeNames(got))
	}
}

// --- helpers ---

func searchCorpus() []Recipe {
	return []Recipe{
		{Name: "Beef Tacos", Tags: []string{"mexican"}, Ingredients: []string{"tortillas", "ground beef"}},
		{Name: "Lentil Curry", Tags: []string{"vegan"}, Ingredients: []string{"red lentils", "coconut milk"}},
		{Name: "Pancakes", Tags: []string{"breakfast"}, Ingredients: []string{"flour", "milk", "eggs"}},
	}
}

func recipeNames(recipes []Recipe) []string {
	names := make([]string, len(recipes))
	for i, r := range recipes {
		names[i] = r.Name
	}
	return names
}

// fakeEmbedder returns canned vectors by exact text, a fixed vector for
// anything unknown, and counts invocations.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
	calls   int
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, ok := f.vectors[text]
		if !ok {
			v = []float64{0.5, 0.5, 0.5}
		}
		out[i] = v
	}
	return out, nil
}
