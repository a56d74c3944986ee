package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/recall/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

type turnResult struct {
	latency time.Duration
	failed  bool
}

var defaultQueries = []string{
	"How do I reverse a slice in Go?",
	"And how would I do that in place?",
	"What is the time complexity of that?",
	"Show the same thing with generics.",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfask: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfask: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("perfask", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "recall base URL")
	fs.StringVar(&cfg.userID, "user-id", "perf-replay", "user_ID used for the synthetic asks")
	fs.IntVar(&cfg.turns, "turns", 10, "number of asks to replay")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between asks in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for ask_result per ask in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "queries separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.texts = splitTexts(textsRaw)
	if strings.TrimSpace(textsRaw) != "" && len(cfg.texts) == 0 {
		return options{}, fmt.Errorf("texts produced no non-empty queries")
	}
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultQueries...)
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Printf("perfask: user=%s turns=%d url=%s\n", cfg.userID, cfg.turns, wsURL)
	}

	resultCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, resultCh, readErrCh, cfg.verbose)

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		query := cfg.texts[i%len(cfg.texts)]
		requestID := fmt.Sprintf("perf-%d", i+1)
		if cfg.verbose {
			fmt.Printf("perfask: ask %d/%d query=%q\n", i+1, cfg.turns, query)
		}

		started := time.Now()
		if err := conn.WriteJSON(protocol.Ask{
			Type:      protocol.TypeAsk,
			RequestID: requestID,
			Query:     query,
			UserID:    cfg.userID,
		}); err != nil {
			return fmt.Errorf("ask %d send: %w", i+1, err)
		}
		env, err := awaitResult(resultCh, readErrCh, requestID, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("ask %d await ask_result: %w", i+1, err)
		}
		results = append(results, turnResult{latency: time.Since(started), failed: env.Error != ""})

		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	fmt.Println(summarize(results))

	snapshot, err := fetchServerLatency(ctx, &http.Client{Timeout: 10 * time.Second}, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("fetch server latency: %w", err)
	}
	fmt.Println(snapshot)
	return nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/ask-ai"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, resultCh chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeAskResult):
			if verbose && env.Error != "" {
				fmt.Fprintf(os.Stderr, "perfask: ask_result request=%s error=%s\n", env.RequestID, env.Error)
			}
			resultCh <- env
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "perfask: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
			if env.RequestID != "" {
				resultCh <- env
			}
		}
	}
}

func awaitResult(resultCh <-chan wsEnvelope, readErrCh <-chan error, requestID string, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-resultCh:
			if env.RequestID != requestID {
				continue
			}
			if env.Type == string(protocol.TypeErrorEvent) {
				return env, errors.New(env.Detail)
			}
			return env, nil
		case err := <-readErrCh:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func summarize(results []turnResult) string {
	if len(results) == 0 {
		return "perfask: no asks completed"
	}
	latencies := make([]time.Duration, 0, len(results))
	failed := 0
	for _, r := range results {
		latencies = append(latencies, r.latency)
		if r.failed {
			failed++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pick := func(q float64) time.Duration {
		idx := int(q*float64(len(latencies)-1) + 0.5)
		return latencies[idx]
	}
	return fmt.Sprintf("perfask: asks=%d failed=%d p50=%s p95=%s max=%s",
		len(results), failed,
		pick(0.50).Round(time.Millisecond),
		pick(0.95).Round(time.Millisecond),
		latencies[len(latencies)-1].Round(time.Millisecond),
	)
}

func fetchServerLatency(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}
