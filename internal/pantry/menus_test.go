package pantry

import (
	"reflect"
	"testing"
)

func TestComposeMenu_PrefersStockedRecipes(t *testing.T) {
	recipes := mustBuiltinRecipes(t)
	items := []Item{{Name: "Spaghetti"}, {Name: "Eggs"}, {Name: "Guanciale"}}

	menu := ComposeMenu(items, recipes, "", 0)

	if menu.Title != "From Your Pantry" {
		t.Errorf("Title = %q, want the default pantry title", menu.Title)
	}
	if len(menu.Dishes) != defaultMenuSize {
		t.Fatalf("menu has %d dishes, want %d", len(menu.Dishes), defaultMenuSize)
	}
	if menu.Dishes[0] != "Spaghetti Carbonara" {
		t.Errorf("Dishes[0] = %q, want the best ingredient overlap first", menu.Dishes[0])
	}
	if menu.Note != "Uses from your pantry: spaghetti, eggs, guanciale." {
		t.Errorf("Note = %q, want the used stock listed", menu.Note)
	}
}

func TestComposeMenu_Deterministic(t *testing.T) {
	recipes := mustBuiltinRecipes(t)
	items := []Item{{Name: "Eggs"}, {Name: "Rice"}}

	a := ComposeMenu(items, recipes, "quick", 4)
	b := ComposeMenu(items, recipes, "quick", 4)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same stock produced different menus:\n%+v\n%+v", a, b)
	}
}

func TestComposeMenu_StyleBonus(t *testing.T) {
	recipes := mustBuiltinRecipes(t)

	menu := ComposeMenu(nil, recipes, "italian", 3)

	if menu.Title != "Italian Menu" {
		t.Errorf("Title = %q, want the style reflected", menu.Title)
	}
	want := []string{"Spaghetti Carbonara", "Minestrone", "Mushroom Risotto"}
	if !reflect.DeepEqual(menu.Dishes, want) {
		t.Errorf("Dishes = %v, want the italian-tagged recipes %v", menu.Dishes, want)
	}
	if menu.Note != "" {
		t.Errorf("Note = %q, want empty with nothing in stock", menu.Note)
	}
}

func TestComposeMenu_CountClamped(t *testing.T) {
	recipes := mustBuiltinRecipes(t)

	if menu := ComposeMenu(nil, recipes, "", 99); len(menu.Dishes) != maxMenuSize {
		t.Errorf("count 99 produced %d dishes, want the cap %d", len(menu.Dishes), maxMenuSize)
	}
	if menu := ComposeMenu(nil, recipes, "", -1); len(menu.Dishes) != defaultMenuSize {
		t.Errorf("count -1 produced %d dishes, want the default %d", len(menu.Dishes), defaultMenuSize)
	}
}

func TestMenuFromRecipes_Titles(t *testing.T) {
	recipes := mustBuiltinRecipes(t)

	menu := MenuFromRecipes(recipes[:2], "", 5)
	if menu.Title != "From Your Recipe Collection" {
		t.Errorf("Title = %q, want the collection default", menu.Title)
	}
	if len(menu.Dishes) != 2 {
		t.Errorf("menu has %d dishes, want all 2 available", len(menu.Dishes))
	}

	menu = MenuFromRecipes(recipes, "cozy dinner", 2)
	if menu.Title != "Cozy dinner Ideas" {
		t.Errorf("Title = %q, want the query titled", menu.Title)
	}
	if len(menu.Dishes) != 2 {
		t.Errorf("menu has %d dishes, want the requested 2", len(menu.Dishes))
	}

	menu = MenuFromRecipes(nil, "anything", 3)
	if len(menu.Dishes) != 0 {
		t.Errorf("menu from no recipes has %d dishes, want 0", len(menu.Dishes))
	}
}

func TestStockMatch_BothDirections(t *testing.T) {
	if got := stockMatch([]string{"beef"}, "ground beef"); got != "beef" {
		t.Errorf("stockMatch(beef, ground beef) = %q, want beef", got)
	}
	if got := stockMatch([]string{"ground beef"}, "beef"); got != "ground beef" {
		t.Errorf("stockMatch(ground beef, beef) = %q, want ground beef", got)
	}
	if got := stockMatch([]string{"milk"}, "eggs"); got != "" {
		t.Errorf("stockMatch(milk, eggs) = %q, want no match", got)
	}
}

// --- helpers ---

func mustBuiltinRecipes(t *testing.T) []Recipe {
	t.Helper()
	recipes, err := LoadRecipes("")
	if err != nil {
		t.Fatalf("LoadRecipes: %v", err)
	}
	return recipes
}
