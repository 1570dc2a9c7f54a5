// Package mcpserve exposes a trained connlm-go model's eval/gen operations
// as MCP tools, supplementing spec.md's CLI-only surface with an additive
// RPC front-end (see DESIGN.md). It follows the teacher's
// pkg/mcp/server.go: register a small tool set on a mcp-go server, wrap it
// in an optional API-key middleware, and serve it over streamable HTTP.
package mcpserve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	toolEval = "connlm_eval"
	toolGen  = "connlm_gen"
)

// Config controls MCP route behavior.
type Config struct {
	APIKey string
}

// Backend is the minimal capability contract exposed to MCP tools: scoring
// text against a loaded model and sampling new sentences from it.
type Backend interface {
	// Eval scores text (one sentence per line) and returns per-sentence and
	// aggregate log-probability/entropy/perplexity.
	Eval(ctx context.Context, text string) (map[string]any, error)

	// Generate samples numSents sentences, optionally seeded by prefix (one
	// prefix word per line; the same prefix seeds every sentence).
	Generate(ctx context.Context, numSents int, prefix string) (map[string]any, error)
}

// NewHandler builds an MCP streamable HTTP handler exposing the eval/gen
// tools over backend, with optional API-key auth.
func NewHandler(cfg Config, backend Backend) (http.Handler, error) {
	if backend == nil {
		return nil, fmt.Errorf("mcpserve backend is required")
	}

	s := mcpserver.NewMCPServer(
		"connlm-mcp",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	registerTools(s, backend)

	streamable := mcpserver.NewStreamableHTTPServer(s, mcpserver.WithStateLess(true))
	var h http.Handler = http.HandlerFunc(streamable.ServeHTTP)

	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		h = apiKeyMiddleware(key, h)
	}
	return h, nil
}

func registerTools(s *mcpserver.MCPServer, backend Backend) {
	s.AddTool(mcpproto.NewTool(toolEval,
		mcpproto.WithDescription("Evaluate text against the loaded connlm model, returning log-probability, entropy and perplexity."),
		mcpproto.WithString("text", mcpproto.Required(), mcpproto.Description("Text to score, one sentence per line.")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		text := getString(args, "text", "")
		if strings.TrimSpace(text) == "" {
			return errResult("text is required"), nil
		}
		result, err := backend.Eval(ctx, text)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("evaluation completed", result)
	})

	s.AddTool(mcpproto.NewTool(toolGen,
		mcpproto.WithDescription("Generate sentences by sampling from the loaded connlm model."),
		mcpproto.WithNumber("num_sents", mcpproto.Required(), mcpproto.Description("Number of sentences to generate.")),
		mcpproto.WithString("prefix", mcpproto.Description("Optional newline-separated word prefix to seed generation.")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		numSents := getInt(args, "num_sents", 1)
		if numSents < 1 {
			return errResult("num_sents must be >= 1"), nil
		}
		prefix := getString(args, "prefix", "")
		result, err := backend.Generate(ctx, numSents, prefix)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("generation completed", result)
	})
}

func errResult(msg string) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: "Error: " + msg},
		},
		IsError: true,
	}
}

func structuredResult(summary string, data any) (*mcpproto.CallToolResult, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return errResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: summary},
			mcpproto.TextContent{Type: "text", Text: string(blob)},
		},
	}, nil
}

func getString(args map[string]any, key string, def string) string {
	if args == nil {
		return def
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func getInt(args map[string]any, key string, def int) int {
	if args == nil {
		return def
	}
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	return int(v)
}

func apiKeyMiddleware(expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		provided := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if provided == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				provided = strings.TrimSpace(auth[7:])
			}
		}

		if provided == "" || provided != expected {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
