// Command confirm_flow exercises the confirmation protocol end to end.
//
// It connects to a running garde gateway, seeds the pantry with two records
// of the same item, sends an ambiguous name-scoped delete, verifies the turn
// suspends with a confirmation prompt, answers with a scope choice, and
// checks the progress mirror saw the resumed turn complete.
//
// Usage: confirm_flow -gateway http://127.0.0.1:18620 -token dev-token
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	wsclient "github.com/gardehq/garde/clients/ws"
	"github.com/gardehq/garde/internal/agent"
	"github.com/gardehq/garde/internal/events"
	wsprotocol "github.com/gardehq/garde/internal/gateway/ws"
)

func main() {
	gatewayURL := flag.String("gateway", "http://127.0.0.1:18620", "Gateway base URL")
	token := flag.String("token", "dev-token", "Gateway bearer token")
	seed := flag.String("seed", "add a carton of milk, and then add one more carton of milk", "Seeding message")
	mutate := flag.String("mutate", "remove the milk from my pantry", "Ambiguous mutation message")
	reply := flag.String("reply", "oldest", "Confirmation answer")
	timeout := flag.Duration("timeout", 120*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *gatewayURL, *token, *seed, *mutate, *reply); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, gatewayURL, token, seed, mutate, reply string) error {
	// ── Step 1: attach the progress mirror before any turn runs ─────────
	mirror, err := wsclient.Dial(ctx, mirrorURL(gatewayURL, token))
	if err != nil {
		return fmt.Errorf("dial mirror: %w", err)
	}
	defer mirror.Close()

	counts := newFrameCounter()
	go func() {
		for {
			frame, err := mirror.ReadFrame()
			if err != nil {
				return
			}
			if frame.Type == wsprotocol.FrameTypeProgress && frame.Event != nil {
				counts.add(frame.Event.Type)
			}
		}
	}()
	fmt.Println("CHECK mirror attached")

	// ── Step 2: seed the pantry so the name-scoped delete is ambiguous ──
	var result agent.TurnResult
	if err := postChat(ctx, gatewayURL, token, "/chat", map[string]string{"message": seed}, &result); err != nil {
		return fmt.Errorf("seed turn: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("seed turn failed: %s", result.Response)
	}
	sessionID := result.SessionID
	fmt.Printf("CHECK pantry seeded (session %s)\n", sessionID)

	// ── Step 3: ambiguous mutation must suspend, not execute ────────────
	if err := postChat(ctx, gatewayURL, token, "/chat", map[string]string{
		"message":    mutate,
		"session_id": sessionID,
	}, &result); err != nil {
		return fmt.Errorf("mutation turn: %w", err)
	}
	if !result.ConfirmationRequired {
		return fmt.Errorf("mutation executed without confirmation: %s", result.Response)
	}
	if result.Confirmation == nil || len(result.Confirmation.Options) == 0 {
		return fmt.Errorf("suspended turn carries no options")
	}
	fmt.Printf("CHECK turn suspended: options=%s\n", strings.Join(result.Confirmation.Options, ","))

	if !optionOffered(result.Confirmation.Options, reply) {
		return fmt.Errorf("reply %q is not among the offered options %v", reply, result.Confirmation.Options)
	}

	// ── Step 4: answer and verify the turn resumes to completion ────────
	if err := postChat(ctx, gatewayURL, token, "/chat/confirm", map[string]string{
		"message": reply,
	}, &result); err != nil {
		return fmt.Errorf("confirm turn: %w", err)
	}
	if result.ConfirmationRequired {
		return fmt.Errorf("turn still suspended after %q", reply)
	}
	if !result.Success {
		return fmt.Errorf("resumed turn failed: %s", result.Response)
	}
	fmt.Println("CHECK turn resumed and completed")

	// ── Step 5: the mirror must have seen the lifecycle ─────────────────
	deadline := time.Now().Add(5 * time.Second)
	for counts.get(events.ProgressTypeComplete) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if counts.get(events.ProgressTypeStart) == 0 {
		return fmt.Errorf("mirror saw no start frames")
	}
	if counts.get(events.ProgressTypeComplete) == 0 {
		return fmt.Errorf("mirror saw no complete frames")
	}
	fmt.Printf("CHECK mirror saw lifecycle: start=%d progress=%d complete=%d\n",
		counts.get(events.ProgressTypeStart), counts.get(events.ProgressTypeProgress), counts.get(events.ProgressTypeComplete))

	fmt.Println("CHECK all flow checks passed")
	return nil
}

func postChat(ctx context.Context, base, token, path string, body map[string]string, out *agent.TurnResult) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mirrorURL(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func optionOffered(options []string, reply string) bool {
	for _, o := range options {
		if o == reply {
			return true
		}
	}
	return false
}

type frameCounter struct {
	mu sync.Mutex
	m  map[string]int
}

func newFrameCounter() *frameCounter {
	return &frameCounter{m: make(map[string]int)}
}

func (c *frameCounter) add(kind string) {
	c.mu.Lock()
	c.m[kind]++
	c.mu.Unlock()
}

func (c *frameCounter) get(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[kind]
}
