package pantry

import (
	"sort"
	"strings"
)

// Menu is a composed meal suggestion.
type Menu struct {
	Title  string   `json:"title"`
	Dishes []string `json:"dishes"`
	Note   string   `json:"note,omitempty"`
}

const (
	defaultMenuSize = 3
	maxMenuSize     = 6
)

// ComposeMenu proposes dishes from recipes whose ingredients overlap the
// pantry. Deterministic: the same stock yields the same menu.
func ComposeMenu(items []Item, recipes []Recipe, style string, count int) Menu {
	count = clampMenuSize(count)

	stock := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		name := strings.ToLower(strings.TrimSpace(it.Name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		stock = append(stock, name)
	}

	styleTokens := tokenize(style)

	type scored struct {
		recipe  Recipe
		overlap int
		uses    []string
	}
	ranked := make([]scored, 0, len(recipes))
	for _, r := range recipes {
		s := scored{recipe: r}
		for _, ing := range r.Ingredients {
			if hit := stockMatch(stock, ing); hit != "" {
				s.overlap++
				s.uses = append(s.uses, hit)
			}
		}
		for _, tok := range styleTokens {
			for _, tag := range r.Tags {
				if strings.Contains(strings.ToLower(tag), tok) {
					s.overlap += 2
					break
				}
			}
		}
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].overlap > ranked[j].overlap })

	menu := Menu{Title: menuTitle(style)}
	var uses []string
	usedSeen := make(map[string]bool)
	for _, s := range ranked {
		if len(menu.Dishes) == count {
			break
		}
		menu.Dishes = append(menu.Dishes, s.recipe.Name)
		for _, u := range s.uses {
			if !usedSeen[u] {
				usedSeen[u] = true
				uses = append(uses, u)
			}
		}
	}
	if len(uses) > 0 {
		menu.Note = "Uses from your pantry: " + strings.Join(uses, ", ") + "."
	}
	return menu
}

// MenuFromRecipes turns an already-ranked recipe selection into a menu.
func MenuFromRecipes(recipes []Recipe, query string, count int) Menu {
	count = clampMenuSize(count)
	if count > len(recipes) {
		count = len(recipes)
	}
	menu := Menu{Title: "From Your Recipe Collection"}
	if q := strings.TrimSpace(query); q != "" {
		menu.Title = titleCase(q) + " Ideas"
	}
	for _, r := range recipes[:count] {
		menu.Dishes = append(menu.Dishes, r.Name)
	}
	return menu
}

// stockMatch reports the first pantry name the ingredient refers to, or "".
// "ground beef" matches a "beef" item and the other way round.
func stockMatch(stock []string, ingredient string) string {
	ing := strings.ToLower(strings.TrimSpace(ingredient))
	if ing == "" {
		return ""
	}
	for _, name := range stock {
		if strings.Contains(ing, name) || strings.Contains(name, ing) {
			return name
		}
	}
	return ""
}

func menuTitle(style string) string {
	if s := strings.TrimSpace(style); s != "" {
		return titleCase(s) + " Menu"
	}
	return "From Your Pantry"
}

func titleCase(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func clampMenuSize(count int) int {
	if count <= 0 {
		return defaultMenuSize
	}
	if count > maxMenuSize {
		return maxMenuSize
	}
	return count
}
