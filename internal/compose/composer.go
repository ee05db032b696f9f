// Package compose renders user-facing replies from finished plans.
// Rendering is deterministic: task results in, text out. Only
// pure-conversation turns go through the model.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/gardehq/garde/internal/models"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
)

const respondTool = "respond_to_user"

// conversationPersona frames replies for turns that need no pantry work.
const conversationPersona = `You are Garde, a friendly pantry assistant. You help with kitchen inventory, menus and recipes.
Reply in one to three short sentences, in the language the user used.
Do not invent pantry contents; the current inventory is listed below.
Do not claim to have changed anything: this reply performs no pantry operation.`

const conversationFallback = "I can add, update or remove pantry items, show what you have, and suggest menus. What would you like to do?"

// Composer turns terminal plans into replies.
type Composer struct {
	llm models.Client
}

// New builds a composer. llm may be nil; conversation then uses a canned
// reply.
func New(llm models.Client) *Composer {
	return &Composer{llm: llm}
}

// PlanReply renders the reply for a plan whose tasks are all terminal.
// Parallel menu proposals stay side by side; failures become an apology
// with a hint, never a raw error object.
func (c *Composer) PlanReply(plan *tasks.Plan) string {
	var sections []string

	if s := respondMessages(plan); s != "" {
		sections = append(sections, s)
	}
	if s := renderMenus(plan); s != "" {
		sections = append(sections, s)
	}
	if s := renderRecipeSearches(plan); s != "" {
		sections = append(sections, s)
	}
	if s := renderInventoryReads(plan); s != "" {
		sections = append(sections, s)
	}
	if s := renderWrites(plan); s != "" {
		sections = append(sections, s)
	}
	if s := renderFailures(plan); s != "" {
		sections = append(sections, s)
	}

	if len(sections) == 0 {
		if n := plan.CountByStatus(tasks.StatusCompleted); n > 0 {
			return "All done."
		}
		return "I didn't end up doing anything for that request."
	}
	return strings.Join(sections, "\n\n")
}

// Conversation produces a reply for an empty plan. Model failures degrade
// to a canned hint; a conversational turn never errors out.
func (c *Composer) Conversation(ctx context.Context, utterance string, inventory []sessions.InventoryItem) string {
	if c.llm == nil {
		return conversationFallback
	}
	user := utterance
	if len(inventory) > 0 {
		user += "\n\nCurrent pantry:\n" + inventorySummary(inventory, 20)
	}
	reply, err := c.llm.Compose(ctx, conversationPersona, user)
	if err != nil || strings.TrimSpace(reply) == "" {
		slog.Warn("conversation compose failed", "error", err)
		return conversationFallback
	}
	return strings.TrimSpace(reply)
}

// Cancellation acknowledges a cancelled confirmation. skipped is how many
// parked steps were dropped.
func (c *Composer) Cancellation(skipped int) string {
	if skipped > 1 {
		return fmt.Sprintf("Okay, cancelled. I dropped the remaining %d steps and changed nothing else.", skipped)
	}
	return "Okay, cancelled. I didn't run that step."
}

// ConfirmationTimeout tells the user a parked confirmation lapsed.
func (c *Composer) ConfirmationTimeout() string {
	return "That confirmation has expired, so I didn't change anything. Send the request again if you still want it."
}

// ApologyPlanning covers utterances that never became a workable plan.
func (c *Composer) ApologyPlanning() string {
	return "Sorry, I couldn't work out a safe way to do that. Could you rephrase it?"
}

// ApologySystem covers aborted plans.
func (c *Composer) ApologySystem() string {
	return "Sorry, something went wrong on my side while working on that. Nothing further was changed. Please try again."
}

// --- section renderers ---

func respondMessages(plan *tasks.Plan) string {
	var out []string
	for _, t := range completedWithTool(plan, respondTool) {
		msg := gjson.GetBytes(t.Result, "message").String()
		if msg == "" {
			msg, _ = t.Parameters["message"].(string)
		}
		if msg != "" {
			out = append(out, msg)
		}
	}
	return strings.Join(out, "\n\n")
}

type menuProposal struct {
	title  string
	dishes []string
	note   string
	links  []recipeLink
	fresh  bool // model-authored rather than retrieved
}

type recipeLink struct {
	name string
	url  string
}

func renderMenus(plan *tasks.Plan) string {
	var proposals []menuProposal
	var links []recipeLink

	for _, t := range plan.Tasks {
		if t.Status != tasks.StatusCompleted {
			continue
		}
		switch {
		case strings.HasPrefix(t.Tool, "menu_"):
			proposals = append(proposals, parseProposal(t))
		case t.Tool == "recipe_urls":
			links = append(links, parseLinks(t.Result, "links")...)
		}
	}
	if len(proposals) == 0 {
		return ""
	}

	var b strings.Builder
	switch len(proposals) {
	case 1:
		b.WriteString("Here's a menu idea:\n\n")
	default:
		fmt.Fprintf(&b, "Here are %d menu ideas, pick whichever you like:\n\n", len(proposals))
	}

	for i, p := range proposals {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := p.title
		if title == "" {
			title = fmt.Sprintf("Menu %d", i+1)
		}
		origin := "from your recipe collection"
		if p.fresh {
			origin = "freshly composed"
		}
		if len(proposals) > 1 {
			fmt.Fprintf(&b, "**%d. %s** (%s)", i+1, title, origin)
		} else {
			fmt.Fprintf(&b, "**%s**", title)
		}
		for _, d := range p.dishes {
			b.WriteString("\n- " + d)
		}
		if p.note != "" {
			b.WriteString("\n" + p.note)
		}
		for _, l := range p.links {
			fmt.Fprintf(&b, "\n  recipe: %s (%s)", l.name, l.url)
		}
	}

	if len(links) > 0 {
		b.WriteString("\n\nRecipe links:")
		for _, l := range links {
			fmt.Fprintf(&b, "\n- %s: %s", l.name, l.url)
		}
	}
	return b.String()
}

func parseProposal(t *tasks.Task) menuProposal {
	p := menuProposal{
		title: gjson.GetBytes(t.Result, "menu.title").String(),
		note:  gjson.GetBytes(t.Result, "menu.note").String(),
		fresh: t.Tool == "menu_generate",
	}
	for _, d := range gjson.GetBytes(t.Result, "menu.dishes").Array() {
		p.dishes = append(p.dishes, d.String())
	}
	p.links = parseLinks(t.Result, "recipes")
	return p
}

func parseLinks(result []byte, field string) []recipeLink {
	var out []recipeLink
	for _, r := range gjson.GetBytes(result, field).Array() {
		name := r.Get("name").String()
		url := r.Get("url").String()
		if name == "" && url == "" {
			continue
		}
		if name == "" {
			name = url
		}
		out = append(out, recipeLink{name: name, url: url})
	}
	return out
}

func renderRecipeSearches(plan *tasks.Plan) string {
	var found []recipeLink
	for _, t := range completedWithTool(plan, "recipe_search") {
		found = append(found, parseLinks(t.Result, "recipes")...)
	}
	if len(found) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d recipes:", len(found))
	for _, r := range found {
		if r.url != "" {
			fmt.Fprintf(&b, "\n- %s (%s)", r.name, r.url)
		} else {
			fmt.Fprintf(&b, "\n- %s", r.name)
		}
	}
	return b.String()
}

func renderInventoryReads(plan *tasks.Plan) string {
	var parts []string
	for _, t := range plan.Tasks {
		if t.Status != tasks.StatusCompleted {
			continue
		}
		switch t.Tool {
		case "inventory_list_items":
			parts = append(parts, renderItemList(t.Result))
		case "inventory_get_item":
			if line := itemLine(gjson.GetBytes(t.Result, "item")); line != "" {
				parts = append(parts, line)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderItemList(result []byte) string {
	items := gjson.GetBytes(result, "items").Array()
	if len(items) == 0 {
		return "Your pantry is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your pantry has %d items:", len(items))
	for _, it := range items {
		b.WriteString("\n- " + itemLine(it))
	}
	return b.String()
}

func itemLine(item gjson.Result) string {
	name := item.Get("name").String()
	if name == "" {
		return ""
	}
	qty := formatQuantity(item.Get("quantity").Float())
	unit := item.Get("unit").String()
	switch {
	case unit != "":
		return fmt.Sprintf("%s: %s %s", name, qty, unit)
	case item.Get("quantity").Exists():
		return fmt.Sprintf("%s: %s", name, qty)
	default:
		return name
	}
}

func renderWrites(plan *tasks.Plan) string {
	var lines []string
	for _, t := range plan.Tasks {
		if t.Status != tasks.StatusCompleted || !strings.HasPrefix(t.Tool, "inventory_") {
			continue
		}
		switch {
		case strings.Contains(t.Tool, "add"):
			lines = append(lines, fmt.Sprintf("Added %s to your pantry.", writtenItem(t)))
		case strings.Contains(t.Tool, "update"):
			if n := gjson.GetBytes(t.Result, "updated"); n.Exists() && n.Int() != 1 {
				lines = append(lines, fmt.Sprintf("Updated %d items named %q.", n.Int(), targetName(t)))
			} else {
				lines = append(lines, fmt.Sprintf("Updated %s.", writtenItem(t)))
			}
		case strings.Contains(t.Tool, "delete"):
			if n := gjson.GetBytes(t.Result, "deleted"); n.Type == gjson.Number && n.Int() != 1 {
				lines = append(lines, fmt.Sprintf("Removed %d items named %q.", n.Int(), targetName(t)))
			} else {
				lines = append(lines, fmt.Sprintf("Removed %s from your pantry.", writtenItem(t)))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// writtenItem names the record a write touched, preferring the tool's own
// result over the request parameters.
func writtenItem(t *tasks.Task) string {
	if line := itemLine(gjson.GetBytes(t.Result, "item")); line != "" {
		return line
	}
	if name := targetName(t); name != "" {
		return name
	}
	return "the item"
}

func targetName(t *tasks.Task) string {
	if name, ok := t.Parameters["item_name"].(string); ok && name != "" {
		return name
	}
	if name, ok := t.Parameters["name"].(string); ok && name != "" {
		return name
	}
	return ""
}

func renderFailures(plan *tasks.Plan) string {
	var failed []string
	skipped := 0
	for _, t := range plan.Tasks {
		switch t.Status {
		case tasks.StatusFailed:
			failed = append(failed, fmt.Sprintf("I couldn't %s (%s).", taskLabel(t), shortError(t.Error)))
		case tasks.StatusSkipped:
			skipped++
		}
	}
	if len(failed) == 0 {
		return ""
	}
	msg := "Sorry. " + strings.Join(failed, " ")
	if skipped == 1 {
		msg += " I skipped 1 step that depended on it."
	} else if skipped > 1 {
		msg += fmt.Sprintf(" I skipped %d steps that depended on it.", skipped)
	}
	return msg + " You can try that part again in a moment."
}

func taskLabel(t *tasks.Task) string {
	if t.Description != "" {
		return lowerFirst(t.Description)
	}
	return strings.ReplaceAll(t.Tool, "_", " ")
}

// shortError keeps a single trimmed line of the stored task error; the
// user never sees a raw error object.
func shortError(errText string) string {
	line := errText
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 140 {
		line = line[:140] + "…"
	}
	if line == "" {
		return "an unexpected problem"
	}
	return line
}

func completedWithTool(plan *tasks.Plan, tool string) []*tasks.Task {
	var out []*tasks.Task
	for _, t := range plan.Tasks {
		if t.Status == tasks.StatusCompleted && t.Tool == tool {
			out = append(out, t)
		}
	}
	return out
}

func inventorySummary(items []sessions.InventoryItem, max int) string {
	var b strings.Builder
	for i, it := range items {
		if i == max {
			fmt.Fprintf(&b, "… and %d more\n", len(items)-max)
			break
		}
		fmt.Fprintf(&b, "- %s: %s %s\n", it.Name, formatQuantity(it.Quantity), it.Unit)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	// Leave likely proper nouns and acronyms alone.
	if len(r) > 1 && r[1] >= 'A' && r[1] <= 'Z' {
		return s
	}
	return strings.ToLower(string(r[0])) + string(r[1:])
}
