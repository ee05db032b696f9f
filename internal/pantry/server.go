package pantry

import (
	"context"
	"encoding/json"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer builds the MCP server exposing the pantry tool family. Callers
// run it over stdio (`garde pantry`) or mount it behind the streamable HTTP
// handler.
func NewServer(store *Store, index *Index) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "garde-pantry",
		Version: "0.1.0",
	}, nil)

	ts := &toolset{store: store, index: index}
	for _, def := range ts.defs() {
		srv.AddTool(def.tool, def.handler)
		slog.Debug("pantry tool registered", "tool", def.tool.Name)
	}
	return srv
}

type handlerFunc = func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error)

type toolDef struct {
	tool    *mcpsdk.Tool
	handler handlerFunc
}

type toolset struct {
	store *Store
	index *Index
}

func (ts *toolset) defs() []toolDef {
	return []toolDef{
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_add_item",
				Description: "Add an item to the pantry inventory",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_name": strProp("Name of the item to add"),
					"quantity":  numProp("How many units to add (default 1)"),
					"unit":      strProp("Unit of measure, e.g. liters or cans"),
				}), "item_name"),
			},
			handler: ts.addItem,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_list_items",
				Description: "List everything in the pantry inventory",
				InputSchema: objSchema(withAuth(map[string]any{})),
			},
			handler: ts.listItems,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_get_item",
				Description: "Look up one pantry item by its id",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_id": strProp("Id of the item"),
				}), "item_id"),
			},
			handler: ts.getItem,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_update_item_by_id",
				Description: "Update one pantry item selected by its id",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_id":  strProp("Id of the item to update"),
					"new_name": strProp("New name for the item"),
					"quantity": numProp("New quantity"),
					"unit":     strProp("New unit of measure"),
				}), "item_id"),
			},
			handler: ts.updateByID,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_delete_item_by_id",
				Description: "Delete one pantry item selected by its id",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_id": strProp("Id of the item to delete"),
				}), "item_id"),
			},
			handler: ts.deleteByID,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_update_item_by_name",
				Description: "Update every pantry item carrying a name",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_name": strProp("Name of the items to update"),
					"new_name":  strProp("New name for the items"),
					"quantity":  numProp("New quantity"),
					"unit":      strProp("New unit of measure"),
				}), "item_name"),
			},
			handler: ts.updateNamed(PickAll, false),
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_update_item_by_name_oldest",
				Description: "Update the oldest pantry item carrying a name",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_name": strProp("Name of the item to update"),
					"new_name":  strProp("New name for the item"),
					"quantity":  numProp("New quantity"),
					"unit":      strProp("New unit of measure"),
				}), "item_name"),
			},
			handler: ts.updateNamed(PickOldest, true),
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_update_item_by_name_latest",
				Description: "Update the most recent pantry item carrying a name",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_name": strProp("Name of the item to update"),
					"new_name":  strProp("New name for the item"),
					"quantity":  numProp("New quantity"),
					"unit":      strProp("New unit of measure"),
				}), "item_name"),
			},
			handler: ts.updateNamed(PickLatest, true),
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_delete_item_by_name",
				Description: "Delete every pantry item carrying a name",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_name": strProp("Name of the items to delete"),
				}), "item_name"),
			},
			handler: ts.deleteNamed(PickAll, false),
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_delete_item_by_name_oldest",
				Description: "Delete the oldest pantry item carrying a name",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_name": strProp("Name of the item to delete"),
				}), "item_name"),
			},
			handler: ts.deleteNamed(PickOldest, true),
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "inventory_delete_item_by_name_latest",
				Description: "Delete the most recent pantry item carrying a name",
				InputSchema: objSchema(withAuth(map[string]any{
					"item_name": strProp("Name of the item to delete"),
				}), "item_name"),
			},
			handler: ts.deleteNamed(PickLatest, true),
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "menu_generate",
				Description: "Compose a menu from what the pantry currently holds",
				InputSchema: objSchema(withAuth(map[string]any{
					"style": strProp("Optional theme, e.g. italian or quick"),
					"count": intProp("Number of dishes (default 3)"),
				})),
			},
			handler: ts.menuGenerate,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "menu_from_recipes",
				Description: "Build a menu from the saved recipe collection",
				InputSchema: objSchema(withAuth(map[string]any{
					"query": strProp("What kind of meal to look for"),
					"count": intProp("Number of dishes (default 3)"),
				})),
			},
			handler: ts.menuFromRecipes,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "recipe_search",
				Description: "Search the saved recipe collection",
				InputSchema: objSchema(withAuth(map[string]any{
					"query": strProp("Free-text recipe search"),
					"limit": intProp("Maximum results (default 5)"),
				}), "query"),
			},
			handler: ts.recipeSearch,
		},
		{
			tool: &mcpsdk.Tool{
				Name:        "recipe_urls",
				Description: "Collect links for recipes matching a query",
				InputSchema: objSchema(withAuth(map[string]any{
					"query": strProp("Free-text recipe search"),
					"limit": intProp("Maximum results (default 5)"),
				})),
			},
			handler: ts.recipeURLs,
		},
	}
}

// ---------------------------------------------------------------------------
// inventory handlers
// ---------------------------------------------------------------------------

type itemArgs struct {
	AuthToken string   `json:"auth_token"`
	ItemID    string   `json:"item_id"`
	ItemName  string   `json:"item_name"`
	NewName   *string  `json:"new_name"`
	Quantity  *float64 `json:"quantity"`
	Unit      *string  `json:"unit"`
}

func (a itemArgs) patch() Patch {
	return Patch{Name: a.NewName, Quantity: a.Quantity, Unit: a.Unit}
}

func (ts *toolset) addItem(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args itemArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	quantity := 1.0
	if args.Quantity != nil {
		quantity = *args.Quantity
	}
	unit := ""
	if args.Unit != nil {
		unit = *args.Unit
	}
	it, err := ts.store.Add(ctx, owner(args.AuthToken), args.ItemName, quantity, unit)
	if err != nil {
		return failure(err.Error())
	}
	return success(map[string]any{"item": it})
}

func (ts *toolset) listItems(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args itemArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	items, err := ts.store.List(ctx, owner(args.AuthToken))
	if err != nil {
		return failure(err.Error())
	}
	if items == nil {
		items = []Item{}
	}
	return success(map[string]any{"items": items, "count": len(items)})
}

func (ts *toolset) getItem(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args itemArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	if args.ItemID == "" {
		return failure("item_id is required")
	}
	it, err := ts.store.Get(ctx, owner(args.AuthToken), args.ItemID)
	if err != nil {
		return failure(err.Error())
	}
	return success(map[string]any{"item": it})
}

func (ts *toolset) updateByID(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args itemArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	if args.ItemID == "" {
		return failure("item_id is required")
	}
	it, err := ts.store.Update(ctx, owner(args.AuthToken), args.ItemID, args.patch())
	if err != nil {
		return failure(err.Error())
	}
	return success(map[string]any{"item": it})
}

func (ts *toolset) deleteByID(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args itemArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	if args.ItemID == "" {
		return failure("item_id is required")
	}
	it, err := ts.store.Delete(ctx, owner(args.AuthToken), args.ItemID)
	if err != nil {
		return failure(err.Error())
	}
	return success(map[string]any{"deleted": true, "item": it})
}

func (ts *toolset) updateNamed(pick Pick, single bool) handlerFunc {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args itemArgs
		if err := decodeArgs(req, &args); err != nil {
			return failure("invalid arguments: " + err.Error())
		}
		if args.ItemName == "" {
			return failure("item_name is required")
		}
		items, err := ts.store.UpdateNamed(ctx, owner(args.AuthToken), args.ItemName, args.patch(), pick)
		if err != nil {
			return failure(err.Error())
		}
		if single {
			return success(map[string]any{"item": items[0]})
		}
		return success(map[string]any{"updated": len(items), "items": items})
	}
}

func (ts *toolset) deleteNamed(pick Pick, single bool) handlerFunc {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args itemArgs
		if err := decodeArgs(req, &args); err != nil {
			return failure("invalid arguments: " + err.Error())
		}
		if args.ItemName == "" {
			return failure("item_name is required")
		}
		items, err := ts.store.DeleteNamed(ctx, owner(args.AuthToken), args.ItemName, pick)
		if err != nil {
			return failure(err.Error())
		}
		if single {
			return success(map[string]any{"deleted": true, "item": items[0]})
		}
		return success(map[string]any{"deleted": len(items), "items": items})
	}
}

// ---------------------------------------------------------------------------
// menu and recipe handlers
// ---------------------------------------------------------------------------

type recipeArgs struct {
	AuthToken string `json:"auth_token"`
	Style     string `json:"style"`
	Query     string `json:"query"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
}

func (ts *toolset) menuGenerate(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args recipeArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	items, err := ts.store.List(ctx, owner(args.AuthToken))
	if err != nil {
		return failure(err.Error())
	}
	menu := ComposeMenu(items, ts.index.Recipes(), args.Style, args.Count)
	return success(map[string]any{"menu": menu})
}

func (ts *toolset) menuFromRecipes(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args recipeArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	found := ts.index.Search(ctx, args.Query, clampMenuSize(args.Count))
	menu := MenuFromRecipes(found, args.Query, args.Count)
	refs := make([]map[string]string, 0, len(found))
	for _, r := range found {
		refs = append(refs, map[string]string{"name": r.Name, "url": r.URL})
	}
	return success(map[string]any{"menu": menu, "recipes": refs})
}

func (ts *toolset) recipeSearch(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args recipeArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	if args.Query == "" {
		return failure("query is required")
	}
	found := ts.index.Search(ctx, args.Query, args.Limit)
	return success(map[string]any{"recipes": found})
}

func (ts *toolset) recipeURLs(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args recipeArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure("invalid arguments: " + err.Error())
	}
	found := ts.index.Search(ctx, args.Query, args.Limit)
	links := make([]map[string]string, 0, len(found))
	for _, r := range found {
		if r.URL == "" {
			continue
		}
		links = append(links, map[string]string{"name": r.Name, "url": r.URL})
	}
	return success(map[string]any{"links": links})
}

// ---------------------------------------------------------------------------
// plumbing
// ---------------------------------------------------------------------------

// owner maps the caller's token to a storage partition. The dev server treats
// the token itself as the identity.
func owner(token string) string {
	if token == "" {
		return "anonymous"
	}
	return token
}

func decodeArgs(req *mcpsdk.CallToolRequest, v any) error {
	raw := req.Params.Arguments
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// success wraps data in the envelope every garde tool speaks.
func success(data any) (*mcpsdk.CallToolResult, error) {
	body, err := json.Marshal(map[string]any{"success": true, "data": data})
	if err != nil {
		return nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
	}, nil
}

// failure reports a domain error through the MCP error convention.
func failure(msg string) (*mcpsdk.CallToolResult, error) {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}, nil
}

func objSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func withAuth(props map[string]any) map[string]any {
	props["auth_token"] = strProp("Caller identity token, injected by the agent")
	return props
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}
