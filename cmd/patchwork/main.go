package main

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/youruser/patchwork/internal/agent"
	"github.com/youruser/patchwork/internal/config"
	"github.com/youruser/patchwork/internal/diff"
	"github.com/youruser/patchwork/internal/llm"
	"github.com/youruser/patchwork/internal/logging"
	"github.com/youruser/patchwork/internal/store"
)

//go:embed system_prompt.txt
var systemPrompt string

//go:embed version.txt
var version string

// buildCommit is set via -ldflags or falls back to VCS info from debug.ReadBuildInfo.
var buildCommit string

var (
	appConfig *config.Config
	appStore  *store.DiskStore
	orch      *agent.Orchestrator
	sink      = &stdioSink{}
	log       = logging.Get()

	respondMu sync.Mutex
	configMu  sync.Mutex
)

// getBuildCommit returns the short commit hash, resolving from VCS build info if needed.
func getBuildCommit() string {
	if buildCommit != "" {
		return buildCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}

func versionString() string {
	v := strings.TrimSpace(version)
	if commit := getBuildCommit(); commit != "" {
		return v + " (" + commit + ")"
	}
	return v
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Printf("patchwork %s\n", versionString())
			return
		case "--build":
			if commit := getBuildCommit(); commit != "" {
				fmt.Println(commit)
			} else {
				fmt.Println("unknown")
			}
			return
		}
	}

	defer log.Close()

	if os.Getenv("PATCHWORK_DEBUG") == "1" {
		fmt.Fprintf(os.Stderr, "patchwork: process started with PATCHWORK_DEBUG=1\n")
	}
	logBuildInfo()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		handleRequest(line)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			respond("", map[string]any{
				"type":    "error",
				"message": "Request too large (max 1MB). Reduce context size or split the request.",
			})
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "stdin error: %v\n", err)
		os.Exit(1)
	}
}

func logBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		log.Info("Build info: unavailable")
		return
	}

	var revision string
	var buildTime string
	var modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			buildTime = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}

	v := info.Main.Version
	if revision != "" {
		v = revision
	}
	if modified == "true" {
		v += " (modified)"
	}

	if buildTime != "" {
		log.Info("Build: %s; go=%s; time=%s", v, runtime.Version(), buildTime)
		return
	}
	log.Info("Build: %s; go=%s", v, runtime.Version())
}

// ensureConfig loads config lazily on first use.
func ensureConfig() error {
	configMu.Lock()
	defer configMu.Unlock()
	if appConfig != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	appConfig = cfg
	return nil
}

// stdioSink forwards orchestrator events to the editor as protocol
// messages. The request ID is set per send; the orchestrator's
// single-flight guarantee makes the unsynchronized field safe.
type stdioSink struct {
	reqID string
}

func (s *stdioSink) OnState(turnID string, state agent.State, detail string) {
	msg := map[string]any{"type": "state", "turn_id": turnID, "state": string(state)}
	if detail != "" {
		msg["detail"] = detail
	}
	respond(s.reqID, msg)
}

func (s *stdioSink) OnDelta(turnID, content string) {
	respond(s.reqID, map[string]any{"type": "chunk", "turn_id": turnID, "content": content})
}

func (s *stdioSink) OnResult(turnID string, resp *agent.Response, usage *llm.Usage) {
	changes := make([]map[string]any, 0, len(resp.Changes))
	for _, ch := range resp.Changes {
		changes = append(changes, map[string]any{
			"file":   ch.File,
			"action": string(ch.Action),
			"reason": ch.Reason,
		})
	}
	msg := map[string]any{
		"type":     "result",
		"turn_id":  turnID,
		"plan":     resp.Plan,
		"changes":  changes,
		"commands": resp.Commands,
		"risks":    resp.Risks,
		"summary":  resp.Summary,
		"raw":      resp.RawContent,
	}
	if usage != nil {
		msg["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
			"cost":              usage.Cost,
		}
	}
	respond(s.reqID, msg)
}

func handleRequest(line string) {
	var req map[string]any
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		log.Error("Invalid JSON request: %s", line)
		respond("", map[string]any{"type": "error", "message": "Invalid JSON"})
		return
	}

	action, _ := req["action"].(string)
	log.Request(action, line)
	reqID := requestID(req)

	switch action {
	case "ping":
		respond(reqID, map[string]any{"type": "ok"})

	case "version":
		respond(reqID, map[string]any{"type": "version", "version": versionString()})

	case "init":
		projectRoot, _ := req["project_root"].(string)
		if projectRoot == "" {
			respond(reqID, map[string]any{"type": "error", "message": "Missing required field: project_root"})
			return
		}
		if err := ensureConfig(); err != nil {
			respond(reqID, errorResponse(err))
			return
		}
		s, err := store.NewDiskStore(projectRoot)
		if err != nil {
			respond(reqID, errorResponse(err))
			return
		}
		appStore = s
		client := llm.NewClient(appConfig.BaseURL, appConfig.APIKey, appConfig.Provider,
			*appConfig.Temperature, *appConfig.MaxTokens)
		orch = agent.NewOrchestrator(client, appStore, appConfig.DefaultModel, systemPrompt, sink)
		log.Info("Initialized for project: %s (provider: %s, model: %s)",
			appStore.Root(), appConfig.Provider, appConfig.DefaultModel)
		respond(reqID, map[string]any{"type": "ok", "model": appConfig.DefaultModel})

	case "send":
		if orch == nil {
			respond(reqID, map[string]any{"type": "error", "message": "Not initialized"})
			return
		}
		content, _ := req["content"].(string)
		if content == "" {
			respond(reqID, map[string]any{"type": "error", "message": "Missing required field: content"})
			return
		}
		if orch.Busy() {
			respond(reqID, map[string]any{"type": "error", "message": "Another request is already in progress"})
			return
		}
		go handleSend(reqID, content)

	case "preview":
		handleApply(reqID, true)

	case "apply":
		handleApply(reqID, false)

	case "reset":
		if orch == nil {
			respond(reqID, map[string]any{"type": "error", "message": "Not initialized"})
			return
		}
		orch.Reset()
		respond(reqID, map[string]any{"type": "ok"})

	case "estimate_tokens":
		textsRaw, ok := req["texts"].([]any)
		if !ok || len(textsRaw) == 0 {
			respond(reqID, map[string]any{"type": "error", "message": "Missing or empty 'texts' array"})
			return
		}
		tokens := make([]int, len(textsRaw))
		for i, v := range textsRaw {
			s, _ := v.(string)
			tokens[i] = llm.EstimateTokensSimple(s)
		}
		respond(reqID, map[string]any{"type": "token_estimate", "tokens": tokens})

	case "cancel":
		if orch == nil || !orch.Cancel() {
			respond(reqID, map[string]any{"type": "error", "message": "No active request to cancel"})
			return
		}
		respond(reqID, map[string]any{"type": "ok"})

	case "shutdown":
		log.Close()
		os.Exit(0)

	default:
		respond(reqID, map[string]any{"type": "error", "message": fmt.Sprintf("Unknown action: %s", action)})
	}
}

func handleSend(reqID, content string) {
	sink.reqID = reqID
	turnID, err := orch.Run(context.Background(), content)
	if err != nil {
		if errors.Is(err, agent.ErrBusy) {
			respond(reqID, map[string]any{"type": "error", "message": "Another request is already in progress"})
			return
		}
		if errors.Is(err, context.Canceled) {
			respond(reqID, map[string]any{"type": "done", "turn_id": turnID, "canceled": true})
			return
		}
		respond(reqID, errorResponse(err))
		return
	}
	respond(reqID, map[string]any{"type": "done", "turn_id": turnID})
}

func handleApply(reqID string, preview bool) {
	if orch == nil {
		respond(reqID, map[string]any{"type": "error", "message": "Not initialized"})
		return
	}

	var summary *agent.ApplySummary
	var err error
	if preview {
		summary, err = orch.Preview()
	} else {
		summary, err = orch.Apply()
	}
	if err != nil {
		respond(reqID, errorResponse(err))
		return
	}

	results := make([]map[string]any, 0, len(summary.Results))
	for _, r := range summary.Results {
		entry := map[string]any{
			"path":    r.Path,
			"outcome": r.Outcome.String(),
		}
		switch r.Outcome {
		case diff.Applied:
			entry["additions"] = r.Additions
			entry["deletions"] = r.Deletions
		case diff.Conflicted:
			entry["reason"] = r.Reason
			entry["hunk_index"] = r.HunkIndex
		case diff.Errored:
			entry["reason"] = r.Reason
		}
		results = append(results, entry)
	}

	msgType := "apply_result"
	if preview {
		msgType = "preview_result"
	}
	respond(reqID, map[string]any{
		"type":      msgType,
		"applied":   summary.Applied,
		"conflicts": summary.Conflicts,
		"errors":    summary.Errors,
		"additions": summary.Additions,
		"deletions": summary.Deletions,
		"message":   summary.Message(),
		"results":   results,
	})
}

func errorResponse(err error) map[string]any {
	var msg string
	switch {
	case errors.Is(err, config.ErrNoConfig):
		msg = "Config file not found: ~/.config/patchwork/config.json"
	case errors.Is(err, config.ErrNoAPIKey):
		msg = "API key not set in config"
	case errors.Is(err, config.ErrInvalidProvider):
		msg = err.Error()
	case errors.Is(err, store.ErrPathEscape):
		msg = "Path escapes project root"
	case errors.Is(err, agent.ErrNoResponse):
		msg = "No pending changes to apply"
	default:
		msg = err.Error()
	}
	return map[string]any{"type": "error", "message": msg}
}

func respond(reqID string, data map[string]any) {
	out, _ := json.Marshal(addResponseID(reqID, data))
	msgType, _ := data["type"].(string)
	respondMu.Lock()
	defer respondMu.Unlock()
	log.Response(msgType, string(out))
	fmt.Println(string(out))
}

func addResponseID(reqID string, data map[string]any) map[string]any {
	if reqID == "" {
		return data
	}
	data["request_id"] = reqID
	return data
}

func requestID(req map[string]any) string {
	switch v := req["request_id"].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}
