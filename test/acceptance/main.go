package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	nutellaBarcode = "3017620422003"
	unknownBarcode = "4006381333931"
	maxCachedCall  = 250 * time.Millisecond
	concurrency    = 20
)

var (
	serverURL = envOr("ACCEPTANCE_URL", "http://localhost:8080")
	authToken = envOr("AUTH_TOKEN", "your-secret-token")
	client    = &http.Client{Timeout: 30 * time.Second}
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

type resolution struct {
	OK       bool   `json:"ok"`
	NotFound bool   `json:"not_found"`
	Barcode  string `json:"barcode"`
	Product  *struct {
		Name   string `json:"name"`
		Brand  string `json:"brand"`
		Source string `json:"source"`
	} `json:"product"`
}

type step struct {
	name string
	run  func() error
}

func main() {
	fmt.Printf("🧪 FoodFit MCP Acceptance Test\n")
	fmt.Printf("Target: %s\n\n", serverURL)

	steps := []step{
		{"health endpoint (no auth)", testHealth},
		{"MCP endpoint without auth is rejected", func() error { return expectStatus("", http.StatusUnauthorized) }},
		{"MCP endpoint with wrong auth is rejected", func() error { return expectStatus("wrong-token", http.StatusUnauthorized) }},
		{"initialize with correct auth", testInitialize},
		{"tools/list exposes the three tools", testToolsList},
		{"resolve_product finds a curated product", testResolveFound},
		{"resolve_product reports not found", testResolveNotFound},
		{"resolve_products keeps input order", testResolveBatch},
		{"score_product scores for a profile", testScore},
		{"cached resolutions are fast", testCachedLatency},
		{"concurrent resolutions succeed", testConcurrent},
	}

	for i, s := range steps {
		fmt.Printf("%d. Testing %s...\n", i+1, s.name)
		start := time.Now()
		if err := s.run(); err != nil {
			fmt.Printf("❌ %s failed: %v\n", s.name, err)
			os.Exit(1)
		}
		fmt.Printf("✅ passed in %v\n\n", time.Since(start).Round(time.Millisecond))
	}

	fmt.Printf("🎉 All acceptance tests passed!\n")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testHealth() error {
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if body["status"] != "healthy" {
		return fmt.Errorf("unexpected health status %v", body["status"])
	}
	return nil
}

func expectStatus(token string, want int) error {
	resp, err := post(token, initializeRequest(1))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("expected status %d, got %d", want, resp.StatusCode)
	}
	return nil
}

func initializeRequest(id int) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]string{"name": "acceptance", "version": "1.0.0"},
		},
	}
}

func testInitialize() error {
	raw, err := call(initializeRequest(1))
	if err != nil {
		return err
	}
	if !strings.Contains(string(raw), "FoodFit MCP Server") {
		return fmt.Errorf("server info missing from initialize result: %s", raw)
	}
	return nil
}

func testToolsList() error {
	raw, err := call(rpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list", Params: map[string]any{}})
	if err != nil {
		return err
	}
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("failed to decode tools: %w", err)
	}

	seen := map[string]bool{}
	for _, t := range list.Tools {
		seen[t.Name] = true
	}
	for _, name := range []string{"resolve_product", "resolve_products", "score_product"} {
		if !seen[name] {
			return fmt.Errorf("tool %s not listed", name)
		}
	}
	return nil
}

func testResolveFound() error {
	var r resolution
	if err := callTool("resolve_product", map[string]any{"barcode": nutellaBarcode}, &r); err != nil {
		return err
	}
	if !r.OK || r.Product == nil {
		return fmt.Errorf("expected a product, got %+v", r)
	}
	fmt.Printf("   📦 %s (%s) from %s\n", r.Product.Name, r.Product.Brand, r.Product.Source)
	return nil
}

func testResolveNotFound() error {
	var r resolution
	if err := callTool("resolve_product", map[string]any{"barcode": unknownBarcode}, &r); err != nil {
		return err
	}
	if !r.OK || !r.NotFound {
		return fmt.Errorf("expected not found, got %+v", r)
	}
	return nil
}

func testResolveBatch() error {
	var batch struct {
		Count   int          `json:"count"`
		Results []resolution `json:"results"`
	}
	codes := []string{unknownBarcode, nutellaBarcode}
	if err := callTool("resolve_products", map[string]any{"barcodes": codes}, &batch); err != nil {
		return err
	}
	if batch.Count != len(codes) || len(batch.Results) != len(codes) {
		return fmt.Errorf("expected %d results, got %d", len(codes), len(batch.Results))
	}
	if !batch.Results[0].NotFound || batch.Results[1].Product == nil {
		return fmt.Errorf("results out of order: %+v", batch.Results)
	}
	return nil
}

func testScore() error {
	var out struct {
		Score *struct {
			FinalScore int      `json:"final_score"`
			Notes      []string `json:"notes"`
		} `json:"score"`
	}
	args := map[string]any{
		"barcode": nutellaBarcode,
		"profile": map[string]any{"diet_type": "vegan", "health_goals": []string{"low_sugar"}},
	}
	if err := callTool("score_product", args, &out); err != nil {
		return err
	}
	if out.Score == nil {
		return fmt.Errorf("score missing")
	}
	if out.Score.FinalScore < 0 || out.Score.FinalScore > 100 {
		return fmt.Errorf("score %d outside 0..100", out.Score.FinalScore)
	}
	fmt.Printf("   🎯 score %d/100, %d notes\n", out.Score.FinalScore, len(out.Score.Notes))
	return nil
}

func testCachedLatency() error {
	var r resolution
	// warm
	if err := callTool("resolve_product", map[string]any{"barcode": nutellaBarcode}, &r); err != nil {
		return err
	}
	start := time.Now()
	if err := callTool("resolve_product", map[string]any{"barcode": nutellaBarcode}, &r); err != nil {
		return err
	}
	if elapsed := time.Since(start); elapsed > maxCachedCall {
		return fmt.Errorf("cached call took %v, want under %v", elapsed, maxCachedCall)
	}
	return nil
}

func testConcurrent() error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var r resolution
			err := callTool("resolve_product", map[string]any{"barcode": nutellaBarcode}, &r)
			if err == nil && r.Product == nil {
				err = fmt.Errorf("no product in %+v", r)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d calls failed, first: %w", len(errs), concurrency, errs[0])
	}
	return nil
}

func callTool(name string, args map[string]any, out any) error {
	raw, err := call(rpcRequest{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "tools/call",
		Params:  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		return err
	}

	var res toolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("failed to decode tool result: %w", err)
	}
	if len(res.Content) == 0 {
		return fmt.Errorf("empty tool result")
	}
	if res.IsError {
		return fmt.Errorf("tool error: %s", res.Content[0].Text)
	}
	if err := json.Unmarshal([]byte(res.Content[0].Text), out); err != nil {
		return fmt.Errorf("failed to decode tool payload: %w", err)
	}
	return nil
}

func call(req rpcRequest) (json.RawMessage, error) {
	resp, err := post(authToken, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(extractJSON(body), &rpc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	return rpc.Result, nil
}

// extractJSON accepts plain JSON bodies and SSE framed ones
func extractJSON(body []byte) []byte {
	for _, line := range strings.Split(string(body), "\n") {
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
			return []byte(strings.TrimSpace(data))
		}
	}
	return body
}

func post(token string, req rpcRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, serverURL+"/mcp", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(httpReq)
}
