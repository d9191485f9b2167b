package mcpgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/noot-app/foodfit-server/internal/auth"
	"github.com/noot-app/foodfit-server/internal/resolver"
	"github.com/noot-app/foodfit-server/internal/types"
	"github.com/noot-app/foodfit-server/internal/version"
)

// HTTP server constants
const (
	HTTPReadTimeout     = 15 * time.Second
	HTTPWriteTimeout    = 2 * time.Minute // batches may walk every provider for 25 codes
	HTTPIdleTimeout     = 60 * time.Second
	HTTPShutdownTimeout = 30 * time.Second

	// MaxBatchSize bounds resolve_products
	MaxBatchSize = 25

	healthCacheDuration = 10 * time.Second
)

// Messages returned to clients outside development mode
const (
	genericResolveError = "Product lookup failed. Please try again."
	genericScoreError   = "The product could not be scored."
)

// Resolver is the product resolution surface the tools need
type Resolver interface {
	Resolve(ctx context.Context, raw string) resolver.Response
	ResolveMany(ctx context.Context, raws []string) []resolver.Response
	HealthCheck(ctx context.Context) error
}

// Scorer scores a resolved product against a profile
type Scorer interface {
	Score(p *types.Product, profile types.UserProfile) (*types.ScoreResult, error)
}

// responseRecorder wraps http.ResponseWriter to capture response details
type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.headerWritten {
		return // Prevent duplicate WriteHeader calls
	}
	r.statusCode = code
	r.headerWritten = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(data)
	r.bytesWritten += n
	return n, err
}

// Flush keeps streamed responses working through the recorder
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Server wraps the mark3labs MCP server with authentication
type Server struct {
	mcpServer *server.MCPServer
	resolver  Resolver
	scorer    Scorer
	auth      *auth.BearerTokenAuth
	log       *slog.Logger

	// detailedErrors returns internal error text to clients (ENV=development)
	detailedErrors bool

	// Health check caching to prevent DOS attacks
	healthMu        sync.RWMutex
	lastHealthCheck time.Time
	lastHealthError error
}

// ResolveProductsResponse is the result of resolve_products
type ResolveProductsResponse struct {
	Count   int                 `json:"count"`
	Results []resolver.Response `json:"results"`
}

// ScoreProductResponse is the result of score_product. Score is set only
// when the barcode resolved to a product.
type ScoreProductResponse struct {
	Resolution resolver.Response  `json:"resolution"`
	Score      *types.ScoreResult `json:"score,omitempty"`
}

// NewServer creates a new MCP server with the mark3labs SDK
func NewServer(res Resolver, scorer Scorer, authenticator *auth.BearerTokenAuth, detailedErrors bool, logger *slog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"FoodFit MCP Server",
		version.Tag(),
		server.WithToolCapabilities(false), // Tools don't change dynamically
		server.WithRecovery(),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:      mcpServer,
		resolver:       res,
		scorer:         scorer,
		auth:           authenticator,
		detailedErrors: detailedErrors,
		log:            logger,
	}

	s.addTools()

	return s
}

// checkHealthWithCache checks health with 10-second caching to prevent DOS attacks
func (s *Server) checkHealthWithCache(ctx context.Context) error {
	s.healthMu.RLock()
	if time.Since(s.lastHealthCheck) < healthCacheDuration {
		err := s.lastHealthError
		s.healthMu.RUnlock()
		s.log.Debug("Health check: using cached result",
			"cached_error", err != nil,
			"cache_age", time.Since(s.lastHealthCheck))
		return err
	}
	s.healthMu.RUnlock()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	// Another goroutine may have refreshed while we waited for the write lock
	if time.Since(s.lastHealthCheck) < healthCacheDuration {
		return s.lastHealthError
	}

	s.log.Debug("Health check: probing cache and providers")
	err := s.resolver.HealthCheck(ctx)
	s.lastHealthCheck = time.Now()
	s.lastHealthError = err

	return err
}

func (s *Server) addTools() {
	resolveTool := mcp.NewTool("resolve_product",
		mcp.WithDescription("Resolve a scanned barcode (UPC/EAN/GTIN) to a product with normalized nutrition facts. Tries the curated dataset, USDA FoodData Central and Open Food Facts in that order, including alternate barcode shapes. A product missing from every catalog is reported as not_found, not as an error."),
		mcp.WithString("barcode",
			mcp.Required(),
			mcp.Description("The barcode as scanned. Non-digit characters are ignored."),
		),
		mcp.WithOutputSchema[resolver.Response](),
		mcp.WithIdempotentHintAnnotation(true),
	)
	s.mcpServer.AddTool(resolveTool, s.handleResolveProduct)

	batchTool := mcp.NewTool("resolve_products",
		mcp.WithDescription(fmt.Sprintf("Resolve up to %d barcodes in one call. Results keep the input order and each one succeeds or fails on its own.", MaxBatchSize)),
		mcp.WithArray("barcodes",
			mcp.Required(),
			mcp.Description("Barcodes as scanned"),
			mcp.WithStringItems(),
		),
		mcp.WithOutputSchema[ResolveProductsResponse](),
		mcp.WithIdempotentHintAnnotation(true),
	)
	s.mcpServer.AddTool(batchTool, s.handleResolveProducts)

	scoreTool := mcp.NewTool("score_product",
		mcp.WithDescription("Resolve a barcode and score the product from 0 to 100 for a dietary profile. The score blends a profile-independent safety score with a personal fit score and comes with human-readable notes."),
		mcp.WithString("barcode",
			mcp.Required(),
			mcp.Description("The barcode as scanned"),
		),
		mcp.WithObject("profile",
			mcp.Description("Dietary profile. Omitted fields use defaults: body_goal maintain, diet_type balanced, strictness 1."),
			mcp.Properties(map[string]any{
				"body_goal": map[string]any{
					"type": "string",
					"enum": []string{"lose", "gain", "maintain"},
				},
				"health_goals": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string", "enum": []string{"low_sugar", "high_protein", "low_fat", "keto", "balanced"}},
				},
				"diet_type": map[string]any{
					"type": "string",
					"enum": []string{"vegan", "vegetarian", "carnivore", "gluten_free", "whole_foods", "balanced"},
				},
				"avoid": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string", "enum": []string{"seed_oils", "artificial_colors", "added_sugars", "palm_oil"}},
				},
				"diet_strictness":   map[string]any{"type": "number", "minimum": 0},
				"health_strictness": map[string]any{"type": "number", "minimum": 0},
			}),
		),
		mcp.WithOutputSchema[ScoreProductResponse](),
		mcp.WithIdempotentHintAnnotation(true),
	)
	s.mcpServer.AddTool(scoreTool, s.handleScoreProduct)
}

func (s *Server) handleResolveProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleResolveProduct: Starting tool call", "arguments", request.GetArguments())

	barcode, err := request.RequireString("barcode")
	if err != nil {
		s.log.Warn("handleResolveProduct: Missing 'barcode' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'barcode': %v", err)), nil
	}

	resp := s.resolver.Resolve(ctx, barcode)
	if !resp.OK {
		return mcp.NewToolResultError(s.errorMessage(genericResolveError, resp.Err)), nil
	}

	return s.structured("handleResolveProduct", resp)
}

func (s *Server) handleResolveProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleResolveProducts: Starting tool call", "arguments", request.GetArguments())

	barcodes, err := request.RequireStringSlice("barcodes")
	if err != nil {
		s.log.Warn("handleResolveProducts: Invalid 'barcodes' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'barcodes': %v", err)), nil
	}
	if len(barcodes) == 0 {
		return mcp.NewToolResultError("Parameter 'barcodes' must contain at least one barcode"), nil
	}
	if len(barcodes) > MaxBatchSize {
		s.log.Warn("handleResolveProducts: Batch too large", "count", len(barcodes))
		return mcp.NewToolResultError(fmt.Sprintf("Parameter 'barcodes' accepts at most %d barcodes, got %d", MaxBatchSize, len(barcodes))), nil
	}

	results := s.resolver.ResolveMany(ctx, barcodes)
	for i := range results {
		results[i] = s.scrub(results[i])
	}

	return s.structured("handleResolveProducts", ResolveProductsResponse{
		Count:   len(results),
		Results: results,
	})
}

func (s *Server) handleScoreProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleScoreProduct: Starting tool call", "arguments", request.GetArguments())

	barcode, err := request.RequireString("barcode")
	if err != nil {
		s.log.Warn("handleScoreProduct: Missing 'barcode' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'barcode': %v", err)), nil
	}

	profile, err := parseProfile(request.GetArguments()["profile"])
	if err != nil {
		s.log.Warn("handleScoreProduct: Invalid 'profile' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Invalid parameter 'profile': %v", err)), nil
	}

	resp := s.resolver.Resolve(ctx, barcode)
	if !resp.OK {
		return mcp.NewToolResultError(s.errorMessage(genericResolveError, resp.Err)), nil
	}

	out := ScoreProductResponse{Resolution: resp}
	if resp.Product != nil {
		score, err := s.scorer.Score(resp.Product, profile)
		if err != nil {
			s.log.Error("Scoring failed", "barcode", resp.Barcode, "request_id", resp.RequestID, "error", err)
			return mcp.NewToolResultError(s.errorMessage(genericScoreError, err)), nil
		}
		out.Score = score
	}

	return s.structured("handleScoreProduct", out)
}

// parseProfile decodes the profile argument through UserProfile's JSON
// defaults and rejects values the scorer cannot interpret
func parseProfile(raw any) (types.UserProfile, error) {
	data := []byte("{}")
	if raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return types.UserProfile{}, fmt.Errorf("failed to encode profile: %w", err)
		}
		data = encoded
	}

	var profile types.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return types.UserProfile{}, fmt.Errorf("profile must be an object: %w", err)
	}
	if _, err := profile.Normalize(); err != nil {
		return types.UserProfile{}, err
	}
	return profile, nil
}

// structured returns both structured content and a JSON text fallback
func (s *Server) structured(handler string, response any) (*mcp.CallToolResult, error) {
	responseJSON, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		s.log.Error(handler+": Failed to marshal response", "error", err)
		return mcp.NewToolResultError(s.errorMessage("Failed to encode response", err)), nil
	}

	s.log.Debug(handler+": Returning structured result", "response_size", len(responseJSON))
	return mcp.NewToolResultStructured(response, string(responseJSON)), nil
}

// errorMessage hides internal detail unless running in development
func (s *Server) errorMessage(generic string, err error) string {
	if s.detailedErrors && err != nil {
		return fmt.Sprintf("%s: %v", generic, err)
	}
	return generic
}

// scrub replaces internal error text on a failed batch element
func (s *Server) scrub(resp resolver.Response) resolver.Response {
	if !resp.OK {
		resp.Error = s.errorMessage(genericResolveError, resp.Err)
	}
	return resp
}

// Handler returns the HTTP routes: /health without auth and /mcp behind the bearer token
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := s.checkHealthWithCache(r.Context()); err != nil {
			s.log.Error("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "unhealthy",
				"error":  s.errorMessage("dependency check failed", err),
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"version": version.Tag(),
		})
	})

	streamableServer := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)

	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovery := recover(); recovery != nil {
				s.log.Error("MCP endpoint panic recovered",
					"panic", recovery,
					"method", r.Method,
					"url", r.URL.String(),
					"remote_addr", r.RemoteAddr)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		s.log.Debug("MCP request received",
			"method", r.Method,
			"content_type", r.Header.Get("Content-Type"),
			"content_length", r.ContentLength,
			"remote_addr", r.RemoteAddr)

		recorder := &responseRecorder{ResponseWriter: w}
		streamableServer.ServeHTTP(recorder, r)

		s.log.Debug("MCP response sent",
			"status_code", recorder.statusCode,
			"response_size", recorder.bytesWritten)
	})

	mux.Handle("/mcp", s.auth.Middleware(mcpHandler, func(r *http.Request) {
		s.log.Warn("Unauthorized MCP request", "remote_addr", r.RemoteAddr, "user_agent", r.UserAgent())
	}))

	return mux
}

// ServeHTTP serves the MCP server over HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("MCP HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down MCP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), HTTPShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.log.Info("MCP server stopped")
	return nil
}

// ServeStdio serves the MCP server over stdio (no auth required for local use)
func (s *Server) ServeStdio() error {
	s.log.Info("Starting MCP server in stdio mode")
	return server.ServeStdio(s.mcpServer)
}
