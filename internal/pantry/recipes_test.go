package pantry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRecipes_Builtin(t *testing.T) {
	recipes, err := LoadRecipes("")
	if err != nil {
		t.Fatalf("LoadRecipes: %v", err)
	}
	if len(recipes) != 12 {
		t.Fatalf("builtin corpus has %d recipes, want 12", len(recipes))
	}
	if recipes[0].Name != "Spaghetti Carbonara" {
		t.Errorf("first recipe = %q, want file order preserved", recipes[0].Name)
	}
	for _, r := range recipes {
		if r.URL == "" {
			t.Errorf("recipe %q has no url", r.Name)
		}
		if len(r.Ingredients) == 0 {
			t.Errorf("recipe %q has no ingredients", r.Name)
		}
	}
}

func TestLoadRecipes_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	corpus := `recipes:
  - name: Toast
    url: https://example.com/toast
    tags: [breakfast]
    ingredients: [bread, butter]
`
	if err := os.WriteFile(path, []byte(corpus), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}

	recipes, err := LoadRecipes(path)
	if err != nil {
		t.Fatalf("LoadRecipes: %v", err)
	}
	if len(recipes) != 1 || recipes[0].Name != "Toast" {
		t.Fatalf("recipes = %+v, want the single file entry", recipes)
	}
	if recipes[0].Tags[0] != "breakfast" || recipes[0].Ingredients[0] != "bread" {
		t.Errorf("recipe fields = %+v, want tags and ingredients parsed", recipes[0])
	}
}

func TestLoadRecipes_Rejections(t *testing.T) {
	if _, err := LoadRecipes(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("recipes: []\n"), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	if _, err := LoadRecipes(empty); err == nil || !strings.Contains(err.Error(), "no recipes") {
		t.Errorf("empty corpus error = %v, want a no-recipes complaint", err)
	}

	unnamed := filepath.Join(t.TempDir(), "unnamed.yaml")
	if err := os.WriteFile(unnamed, []byte("recipes:\n  - url: https://example.com/x\n"), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	if _, err := LoadRecipes(unnamed); err == nil || !strings.Contains(err.Error(), "has no name") {
		t.Errorf("unnamed recipe error = %v, want a missing-name complaint", err)
	}
}

func TestRecipeText_FlattensAllFields(t *testing.T) {
	r := Recipe{
		Name:        "Toast",
		Tags:        []string{"breakfast", "quick"},
		Ingredients: []string{"bread", "butter"},
		Description: "Crisp and warm.",
	}
	text := r.text()
	for _, want := range []string{"Toast", "breakfast quick", "bread butter", "Crisp and warm."} {
		if !strings.Contains(text, want) {
			t.Errorf("text() = %q, missing %q", text, want)
		}
	}
}
