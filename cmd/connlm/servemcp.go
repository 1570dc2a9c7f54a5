package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/config"
	"github.com/wantee/connlm-go/pkg/engine"
	"github.com/wantee/connlm-go/pkg/mcpserve"
)

func newServeMCPCmd(gf *globalFlags) *cobra.Command {
	var (
		addr      string
		apiKey    string
		modelPath string
	)

	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve a trained model's eval/gen operations over MCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := &config.CLIOverrides{
				MCPAddr:      &addr,
				MCPAPIKey:    &apiKey,
				MCPModelPath: &modelPath,
			}
			cfg, err := resolveConfig(cmd, gf, extra)
			if err != nil {
				return err
			}
			if cfg.MCP.ModelPath == "" {
				return fmt.Errorf("--mcp-model-path (or mcp.modelPath in config) is required")
			}

			m, err := loadModel(cfg.MCP.ModelPath)
			if err != nil {
				return err
			}
			comp := m.ComponentByName(engine.ComponentName)
			if comp == nil {
				return fmt.Errorf("model %s has no %q component", cfg.MCP.ModelPath, engine.ComponentName)
			}
			hidden := comp.LayerByName(engine.HiddenLayer)
			if hidden == nil {
				return fmt.Errorf("model %s's %q component has no %q layer", cfg.MCP.ModelPath, engine.ComponentName, engine.HiddenLayer)
			}

			e, err := engine.New(m.Vocab, m.Tree, engine.Hyperparams{HiddenSize: hidden.Size})
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}
			if err := e.LoadWeights(m.Weights[engine.ComponentName]); err != nil {
				return fmt.Errorf("restoring checkpoint: %w", err)
			}

			backend := engine.NewMCPBackend(e, newSeededRand(0))
			handler, err := mcpserve.NewHandler(mcpserve.Config{APIKey: cfg.MCP.APIKey}, backend)
			if err != nil {
				return fmt.Errorf("building MCP handler: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "serving %s over MCP at %s\n", cfg.MCP.ModelPath, cfg.MCP.Addr)
			return http.ListenAndServe(cfg.MCP.Addr, handler)
		},
	}

	cmd.Flags().StringVar(&addr, "mcp-addr", "", "Address to listen on (default keeps the config-resolved value)")
	cmd.Flags().StringVar(&apiKey, "mcp-api-key", "", "Shared secret required on every tool call")
	cmd.Flags().StringVar(&modelPath, "mcp-model-path", "", "Path to the model to serve")

	return cmd
}
