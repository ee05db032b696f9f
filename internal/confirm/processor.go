package confirm

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
)

// ErrExpired reports a confirmation answered after its TTL ran out.
var ErrExpired = errors.New("confirmation expired")

// ClarifyTool is the sentinel tool name produced when a confirmation reply
// matches no option. It is never registered; the turn handler intercepts it
// and re-asks the user instead of dispatching.
const ClarifyTool = "clarify_user"

// maxListedCandidates caps the per-item listing in prompts. Beyond this the
// prompt states only the match count.
const maxListedCandidates = 3

// Reply is the parsed class of a confirmation answer.
type Reply int

const (
	ReplyUnknown Reply = iota
	ReplyCancel
	ReplyOldest
	ReplyLatest
	ReplyAll
	ReplyConfirm
)

// String names the reply class for events and logs.
func (r Reply) String() string {
	switch r {
	case ReplyCancel:
		return "cancel"
	case ReplyOldest:
		return "oldest"
	case ReplyLatest:
		return "latest"
	case ReplyAll:
		return "all"
	case ReplyConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// OptionsFor returns the option set offered for an ambiguity kind.
// Multi-target mutations need a scope choice; FIFO variants only need an
// acknowledgement that the right end of the ordering is being touched.
func OptionsFor(k Kind) []string {
	switch k {
	case KindFIFOOldest, KindFIFOLatest:
		return []string{"confirm", "cancel"}
	default:
		return []string{"oldest", "latest", "all", "cancel"}
	}
}

// NewPending parks an ambiguity as a confirmation waiting on the user.
// remaining is the non-terminal tail of the plan including the ambiguous
// task itself; the original is stripped by id and kept aside so Resolve can
// rebuild the chain around a rewritten head.
func NewPending(a *Ambiguity, utterance string, generation int, executed, remaining []*tasks.Task) *sessions.PendingConfirmation {
	chain := make([]*tasks.Task, 0, len(remaining))
	for _, t := range remaining {
		if t.ID == a.Task.ID {
			continue
		}
		chain = append(chain, t.Clone())
	}

	return &sessions.PendingConfirmation{
		ID:             generateConfirmID(),
		Utterance:      utterance,
		Generation:     generation,
		OriginalTask:   a.Task.Clone(),
		ItemName:       a.ItemName,
		Candidates:     a.Candidates,
		Executed:       executed,
		RemainingChain: chain,
		Options:        OptionsFor(a.Kind),
		Prompt:         BuildPrompt(a, chain),
		IssuedAt:       time.Now(),
	}
}

// BuildPrompt renders the user-facing confirmation question: what is about
// to happen, which records match, what else the turn still plans to do, and
// the accepted answers.
func BuildPrompt(a *Ambiguity, chain []*tasks.Task) string {
	var b strings.Builder

	n := len(a.Candidates)
	fmt.Fprintf(&b, "You asked me to %s %q: %s.", a.verb(), a.ItemName, matchCount(n))
	switch a.Kind {
	case KindFIFOOldest:
		fmt.Fprintf(&b, " Only the oldest match will be %sd.", a.verb())
	case KindFIFOLatest:
		fmt.Fprintf(&b, " Only the most recent match will be %sd.", a.verb())
	}

	if n > 0 && n <= maxListedCandidates {
		for _, item := range a.Candidates {
			fmt.Fprintf(&b, "\n  - %s (added %s)", idPrefix(item.ID), item.CreatedAt.Format("2006-01-02 15:04"))
		}
	}

	if len(chain) > 0 {
		b.WriteString("\nAfter this, the following will also run:")
		for _, t := range chain {
			fmt.Fprintf(&b, "\n  - %s", stepLabel(t))
		}
	}

	fmt.Fprintf(&b, "\nReply with one of: %s.", strings.Join(OptionsFor(a.Kind), ", "))
	return b.String()
}

// Resolve applies the user's reply to a parked confirmation and returns the
// plan fragment to hand back to the executor. Cancellation and clarification
// carry no dispatchable tasks; every other reply yields a rewritten head
// under a fresh id plus the remaining chain retargeted onto it.
func Resolve(p *sessions.PendingConfirmation, message string) Resolution {
	reply := ParseReply(message)
	switch reply {
	case ReplyCancel:
		return Resolution{Reply: reply, Cancel: true}
	case ReplyUnknown:
		return Resolution{Reply: reply, Clarify: true, Head: clarifyTask(p)}
	}

	head := p.OriginalTask.Clone()
	head.ID = tasks.GenerateTaskID()
	head.Tool = rewriteTool(p.OriginalTask.Tool, reply)
	head.Confirmed = true
	head.Status = tasks.StatusPending
	head.Result = nil
	head.Error = ""
	head.RetryCount = 0
	head.StartedAt = nil
	head.CompletedAt = nil

	out := []*tasks.Task{head}
	for _, t := range p.RemainingChain {
		c := t.Clone()
		for i, dep := range c.DependsOn {
			if dep == p.OriginalTask.ID {
				c.DependsOn[i] = head.ID
			}
		}
		retargetRefs(c.Parameters, p.OriginalTask.ID, head.ID)
		out = append(out, c)
	}

	return Resolution{Reply: reply, Head: head, Tasks: out}
}

// Resolution is the outcome of applying a reply to a parked confirmation.
type Resolution struct {
	Reply  Reply
	Cancel bool
	// Clarify means the reply matched no option; Head carries the
	// clarify_user sentinel and nothing is dispatchable.
	Clarify bool
	Head    *tasks.Task
	Tasks   []*tasks.Task
}

// replyClasses in match order: an explicit cancel wins over anything else
// in the same message, and a scope choice wins over a bare yes.
var replyClasses = []struct {
	reply Reply
	words []string
}{
	{ReplyCancel, []string{"cancel", "stop", "abort", "no", "nope", "skip", "forget", "nevermind", "dont"}},
	{ReplyOldest, []string{"oldest", "old", "older", "first", "earliest"}},
	{ReplyLatest, []string{"latest", "newest", "new", "newer", "last", "recent"}},
	{ReplyAll, []string{"all", "both", "every", "everything"}},
	{ReplyConfirm, []string{"confirm", "confirmed", "yes", "yeah", "yep", "ok", "okay", "sure", "proceed", "affirmative"}},
}

// ParseReply classifies a free-form confirmation answer by keyword,
// case-insensitively and ignoring punctuation. Unmatched replies come back
// as ReplyUnknown, which Resolve turns into a clarification.
func ParseReply(message string) Reply {
	words := replyWords(message)
	for _, class := range replyClasses {
		for _, w := range class.words {
			if words[w] {
				return class.reply
			}
		}
	}
	return ReplyUnknown
}

// replyWords lowercases the message and splits it into a word set.
// Apostrophes fold away so "don't" matches "dont".
func replyWords(message string) map[string]bool {
	var b strings.Builder
	for _, r := range strings.ToLower(message) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
		default:
			b.WriteRune(' ')
		}
	}
	set := make(map[string]bool)
	for _, w := range strings.Fields(b.String()) {
		set[w] = true
	}
	return set
}

// rewriteTool maps a scope choice onto the tool naming convention. The
// oldest/latest suffixes replace each other; "all" and plain confirmation
// keep the tool as planned.
func rewriteTool(tool string, reply Reply) string {
	base := strings.TrimSuffix(strings.TrimSuffix(tool, "_oldest"), "_latest")
	switch reply {
	case ReplyOldest:
		return base + "_oldest"
	case ReplyLatest:
		return base + "_latest"
	default:
		return tool
	}
}

func clarifyTask(p *sessions.PendingConfirmation) *tasks.Task {
	return &tasks.Task{
		ID:          tasks.GenerateTaskID(),
		Description: "Ask the user to pick a confirmation option",
		Tool:        ClarifyTool,
		Parameters: map[string]any{
			"prompt": fmt.Sprintf("Sorry, I didn't catch that. Please answer with one of: %s.", strings.Join(p.Options, ", ")),
		},
		Status: tasks.StatusPending,
	}
}

// retargetRefs rewrites result references from the original ambiguous task
// onto the rewritten head, walking nested objects and arrays.
func retargetRefs(v any, oldID, newID string) {
	if m, ok := v.(map[string]any); ok {
		if from, ok := m["from_task"].(string); ok && from == oldID {
			m["from_task"] = newID
			return
		}
	}
	switch val := v.(type) {
	case map[string]any:
		for _, e := range val {
			retargetRefs(e, oldID, newID)
		}
	case []any:
		for _, e := range val {
			retargetRefs(e, oldID, newID)
		}
	}
}

func matchCount(n int) string {
	switch n {
	case 0:
		return "no matching items found"
	case 1:
		return "1 matching item found"
	default:
		return fmt.Sprintf("%d matching items found", n)
	}
}

func stepLabel(t *tasks.Task) string {
	if t.Description != "" {
		return t.Description
	}
	return t.Tool
}

func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func generateConfirmID() string {
	u := uuid.New().String()
	return "confirm_" + strings.ReplaceAll(u[:8], "-", "")
}
