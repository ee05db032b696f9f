package pantry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed recipes.yaml
var builtinCorpus []byte

// Recipe is one entry of the recipe corpus.
type Recipe struct {
	Name        string   `yaml:"name" json:"name"`
	URL         string   `yaml:"url,omitempty" json:"url,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Ingredients []string `yaml:"ingredients,omitempty" json:"ingredients,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// LoadRecipes reads a yaml corpus file, or the built-in corpus when path is
// empty.
func LoadRecipes(path string) ([]Recipe, error) {
	data := builtinCorpus
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read recipe corpus: %w", err)
		}
	}
	var doc struct {
		Recipes []Recipe `yaml:"recipes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse recipe corpus: %w", err)
	}
	if len(doc.Recipes) == 0 {
		return nil, fmt.Errorf("recipe corpus has no recipes")
	}
	for i, r := range doc.Recipes {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("recipe %d has no name", i)
		}
	}
	return doc.Recipes, nil
}

// text flattens a recipe for matching and embedding.
func (r Recipe) text() string {
	parts := []string{r.Name}
	if len(r.Tags) > 0 {
		parts = append(parts, strings.Join(r.Tags, " "))
	}
	if len(r.Ingredients) > 0 {
		parts = append(parts, strings.Join(r.Ingredients, " "))
	}
	if r.Description != "" {
		parts = append(parts, r.Description)
	}
	return strings.Join(parts, "\n")
}
