package main

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/ent0n29/samantha-chat/internal/observability"
	"github.com/ent0n29/samantha-chat/internal/protocol"
)

type options struct {
	baseURL        string
	userID         int64
	mode           string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	smoke          bool
	verbose        bool
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

type chatResponse struct {
	Response string `json:"response"`
	Emotion  string `json:"emotion"`
}

type historyItem struct {
	Message   string `json:"message"`
	Response  string `json:"response"`
	Emotion   string `json:"emotion"`
	CreatedAt string `json:"created_at"`
}

type turnResult struct {
	Text     string
	Emotion  string
	Response string
	Latency  time.Duration
}

type latencySummary struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

var defaultUtterances = []string{
	"我今天很开心！",
	"I had a rough day at work.",
	"Why does my code never compile on Fridays?",
	"Let's just sit quietly for a moment.",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("perfchat", flag.ContinueOnError)
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "Samantha base URL")
	fs.Int64Var(&cfg.userID, "user-id", 1, "user_id used for replayed turns")
	fs.StringVar(&cfg.mode, "mode", "http", "transport: http|ws")
	fs.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout per turn in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "messages separated by '|' (optional)")
	fs.BoolVar(&cfg.smoke, "smoke", true, "check /, /health and /history around the replay")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.mode = strings.ToLower(strings.TrimSpace(cfg.mode))
	if cfg.mode != "http" && cfg.mode != "ws" {
		return options{}, fmt.Errorf("mode must be http or ws, got %q", cfg.mode)
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

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty messages")
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.turnTimeout}
	if cfg.smoke {
		if err := smokeCheck(ctx, httpClient, cfg.baseURL); err != nil {
			return fmt.Errorf("smoke check: %w", err)
		}
	}

	var (
		results []turnResult
		err     error
	)
	switch cfg.mode {
	case "ws":
		results, err = replayWS(ctx, cfg, out)
	default:
		results, err = replayHTTP(ctx, httpClient, cfg, out)
	}
	if err != nil {
		return err
	}

	sum := summarize(results)
	fmt.Fprintf(out, "perfchat: mode=%s turns=%d p50=%s p95=%s max=%s avg=%s\n",
		cfg.mode, sum.Count, sum.P50, sum.P95, sum.Max, sum.Avg)

	if cfg.smoke {
		items, err := fetchHistory(ctx, httpClient, cfg.baseURL, cfg.userID, len(results))
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(items) < len(results) {
			return fmt.Errorf("history returned %d rows, want at least %d", len(items), len(results))
		}
		if last := results[len(results)-1].Text; items[0].Message != last {
			return fmt.Errorf("newest history row is %q, want %q", items[0].Message, last)
		}
		fmt.Fprintf(out, "perfchat: history ok (%d rows)\n", len(items))
	}
	return nil
}

func smokeCheck(ctx context.Context, client *http.Client, baseURL string) error {
	var root map[string]string
	if err := getJSON(ctx, client, baseURL+"/", &root); err != nil {
		return fmt.Errorf("GET /: %w", err)
	}
	if root["status"] != "running" {
		return fmt.Errorf("GET /: status %q", root["status"])
	}
	var health map[string]string
	if err := getJSON(ctx, client, baseURL+"/health", &health); err != nil {
		return fmt.Errorf("GET /health: %w", err)
	}
	if health["status"] != "healthy" {
		return fmt.Errorf("GET /health: status %q", health["status"])
	}
	return nil
}

func replayHTTP(ctx context.Context, client *http.Client, cfg options, out io.Writer) ([]turnResult, error) {
	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		payload, err := json.Marshal(chatRequest{Message: text, UserID: cfg.userID})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/chat", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		started := time.Now()
		res, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("turn %d read: %w", i+1, err)
		}
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("turn %d: HTTP %d: %s", i+1, res.StatusCode, strings.TrimSpace(string(body)))
		}
		var reply chatResponse
		if err := json.Unmarshal(body, &reply); err != nil {
			return nil, fmt.Errorf("turn %d decode: %w", i+1, err)
		}

		r := turnResult{Text: text, Emotion: reply.Emotion, Response: reply.Response, Latency: time.Since(started)}
		results = append(results, r)
		logTurn(out, cfg, i, r)
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return results, nil
}

func replayWS(ctx context.Context, cfg options, out io.Writer) ([]turnResult, error) {
	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		reqID := fmt.Sprintf("perfchat-%d", i+1)

		started := time.Now()
		if err := conn.WriteJSON(protocol.ChatMessage{
			Type:      protocol.TypeChatMessage,
			RequestID: reqID,
			Message:   text,
			UserID:    cfg.userID,
		}); err != nil {
			return nil, fmt.Errorf("turn %d send: %w", i+1, err)
		}
		reply, err := awaitReply(conn, reqID, cfg.turnTimeout)
		if err != nil {
			return nil, fmt.Errorf("turn %d await chat_reply: %w", i+1, err)
		}

		r := turnResult{Text: text, Emotion: reply.Emotion, Response: reply.Response, Latency: time.Since(started)}
		results = append(results, r)
		logTurn(out, cfg, i, r)
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return results, nil
}

func awaitReply(conn *websocket.Conn, reqID string, timeout time.Duration) (protocol.ChatReply, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return protocol.ChatReply{}, err
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeChatReply:
			var reply protocol.ChatReply
			if err := json.Unmarshal(data, &reply); err != nil {
				return protocol.ChatReply{}, err
			}
			if reply.RequestID == reqID {
				return reply, nil
			}
		case protocol.TypeErrorEvent:
			var ev protocol.ErrorEvent
			_ = json.Unmarshal(data, &ev)
			return protocol.ChatReply{}, fmt.Errorf("error_event code=%s detail=%s", ev.Code, ev.Detail)
		}
	}
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
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	return u.String(), nil
}

func fetchHistory(ctx context.Context, client *http.Client, baseURL string, userID int64, limit int) ([]historyItem, error) {
	var items []historyItem
	err := getJSON(ctx, client, fmt.Sprintf("%s/history/%d?limit=%d", baseURL, userID, limit), &items)
	return items, err
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func logTurn(out io.Writer, cfg options, i int, r turnResult) {
	if !cfg.verbose {
		return
	}
	fmt.Fprintf(out, "perfchat: turn %d/%d latency=%s emotion=%s text=%q response=%q\n",
		i+1, cfg.turns, r.Latency.Round(time.Millisecond), r.Emotion, r.Text, r.Response)
}

func summarize(results []turnResult) latencySummary {
	if len(results) == 0 {
		return latencySummary{}
	}
	lat := make([]time.Duration, 0, len(results))
	var total time.Duration
	for _, r := range results {
		lat = append(lat, r.Latency)
		total += r.Latency
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	return latencySummary{
		Count: len(lat),
		P50:   observability.Percentile(lat, 0.50),
		P95:   observability.Percentile(lat, 0.95),
		Max:   lat[len(lat)-1],
		Avg:   total / time.Duration(len(lat)),
	}
}
