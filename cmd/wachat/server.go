package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kalambet/wachat/internal/agent"
	"github.com/kalambet/wachat/internal/analytics"
	"github.com/kalambet/wachat/internal/api"
	"github.com/kalambet/wachat/internal/assembler"
	"github.com/kalambet/wachat/internal/config"
	"github.com/kalambet/wachat/internal/crm"
	"github.com/kalambet/wachat/internal/generator"
	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/llm"
	"github.com/kalambet/wachat/internal/logging"
	"github.com/kalambet/wachat/internal/memory"
	"github.com/kalambet/wachat/internal/observability"
	"github.com/kalambet/wachat/internal/orchestrator"
	"github.com/kalambet/wachat/internal/policy"
	"github.com/kalambet/wachat/internal/profile"
	"github.com/kalambet/wachat/internal/relay"
	"github.com/kalambet/wachat/internal/storage"
	"github.com/kalambet/wachat/internal/transport"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the wachat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running wachat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wachat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "wachat.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// redisWindowTTL bounds how long an idle conversation window survives in
// Redis before expiring on its own.
const redisWindowTTL = 24 * time.Hour

func runServer() error {
	fmt.Fprintf(os.Stderr, "wachat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(cfg.Log.Level, cfg.Log.Development)
	logger := log.Logger

	apiToken := cfg.Server.APIToken
	if apiToken == "" {
		apiToken, err = generateToken()
		if err != nil {
			return fmt.Errorf("generating API token: %w", err)
		}
		printWarning("WACHAT_SERVER_API_TOKEN not set; using ephemeral token %s", apiToken)
	}

	// Refuse to start when another instance already answers on this port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("wachat is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("wachat is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing storage")
		}
	}()

	// Conversation window: process-local by default, Redis when replies must
	// survive restarts or the service runs more than one instance.
	var window memory.Store
	if cfg.Memory.Backend == "redis" {
		rs, err := memory.NewRedisStore(ctx, cfg.Redis.URL, cfg.Memory.Window, redisWindowTTL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rs.Close()
		window = rs
	} else {
		window = memory.NewInMemoryStore(cfg.Memory.Window)
	}

	llmClient := llm.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)

	var crmClient crm.Client
	if cfg.CRM.APIKey != "" {
		crmClient = crm.NewHTTPClientWithBaseURL(cfg.CRM.APIKey, cfg.CRM.LocationID, cfg.CRM.BaseURL)
	} else {
		logger.Warn().Msg("CRM credentials not configured; contacts resolve to minimal profiles")
	}

	embedder := knowledge.NewEmbedder(llmClient, cfg.LLM.EmbedModel)
	vectors := knowledge.NewSQLiteStore(store.DB())
	retriever := knowledge.NewRetriever(embedder, vectors, store, logging.Component("knowledge"))
	ingestor := knowledge.NewIngestor(store, embedder, vectors, cfg.Knowledge.ChunkSize)

	var resolver *profile.Resolver
	var profiles assembler.ProfileSource
	if crmClient != nil {
		resolver = profile.NewResolver(crmClient, time.Duration(cfg.Memory.ProfileTTLMinutes)*time.Minute, logging.Component("profile"))
		profiles = resolver
	}

	analyzer := analytics.NewAnalyzer(
		analytics.NewEngine(),
		time.Duration(cfg.Memory.BehaviorTTLMinutes)*time.Minute,
		cfg.Memory.BehaviorCacheSize,
	)

	rules, err := policy.LoadRules(cfg.Rules.File)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	asm := assembler.New(profiles, window, retriever, analyzer, assembler.Options{
		Window:        cfg.Memory.Window,
		TopK:          cfg.Knowledge.TopK,
		MinSimilarity: float32(cfg.Knowledge.MinSimilarity),
	}, logging.Component("assembler"))

	// Tool state is per-turn: the CRM guard (lookup before create, one create
	// per turn) must not leak between messages.
	toolFactory := func() []agent.Tool {
		tools := []agent.Tool{
			agent.NewKnowledgeTool(retriever, cfg.Knowledge.TopK, float32(cfg.Knowledge.MinSimilarity)),
		}
		if crmClient != nil {
			tools = append(tools, agent.NewCRMTool(crmClient))
		}
		return tools
	}
	gen := generator.New(llmClient, toolFactory, llm.SelectOptions{OverrideTag: cfg.LLM.OverrideTag}, logging.Component("generator"))

	metrics := observability.New()

	var rly *relay.Relay
	if cfg.Relay.TargetURL != "" {
		rly = relay.New(cfg.Relay.TargetURL, cfg.Relay.Secret, cfg.Relay.APIKey, store, logging.Component("relay"))
	}

	var sender orchestrator.Sender
	if cfg.Send.URL != "" {
		sender = transport.NewHTTPSender(cfg.Send.URL, cfg.Send.APIKey, time.Duration(cfg.Send.TimeoutSeconds)*time.Second, logging.Component("transport"))
	} else {
		logger.Warn().Msg("send URL not configured; replies are persisted but not delivered")
	}

	orch := orchestrator.New(policy.NewEngine(rules), asm, gen, window, store, sender, metrics, logging.Component("orchestrator"))

	// Agent writes to the CRM make the cached profile and behavior for that
	// contact stale; drop them so the next message sees the updated contact.
	orch.InvalidateOnWrite(analyzer)
	if resolver != nil {
		orch.InvalidateOnWrite(resolver)
	}

	handler := api.NewHandler(api.Deps{
		Orchestrator: orch,
		Relay:        rly,
		Ingestor:     ingestor,
		Store:        store,
		Vectors:      vectors,
		Metrics:      metrics,
		Token:        apiToken,
		Logger:       logging.Component("api"),
	})

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Retriever: retriever,
			CRM:       crmClient,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("MCP stdio server error")
			}
		}()
		logger.Info().Msg("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("wachat listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight conversations finish before the process exits.
	orch.Wait()
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("wachat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop wachat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to wachat (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM", "%s", cfg.LLM.BaseURL)
	printStatus("CRM", "%s", configuredLabel(cfg.CRM.APIKey != ""))
	printStatus("Send gateway", "%s", configuredLabel(cfg.Send.URL != ""))
	printStatus("Relay target", "%s", configuredLabel(cfg.Relay.TargetURL != ""))
	printStatus("Memory backend", "%s", cfg.Memory.Backend)

	if running && cfg.Server.APIToken != "" {
		docsResp, err := apiGet(client, serverURL+"/knowledge?limit=100", cfg.Server.APIToken)
		if err == nil {
			var docs []json.RawMessage
			if json.NewDecoder(docsResp.Body).Decode(&docs) == nil {
				printStatus("Knowledge docs", "%s", countLabel(len(docs), 100))
			}
			docsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func configuredLabel(configured bool) string {
	if configured {
		return "configured"
	}
	return "not configured"
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
