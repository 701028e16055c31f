package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/wachat/internal/config"
	"github.com/kalambet/wachat/internal/policy"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add content to the knowledge base",
	Long: `Add content to the knowledge base of the running server.

Examples:
  wachat ingest --text "We refund within 30 days" --title "Refund policy" --category policies
  wachat ingest --url https://example.com/faq --category faq
  wachat ingest --pdf ./pricing.pdf --title "Pricing 2026"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		fetchURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		pdf, _ := cmd.Flags().GetString("pdf")
		title, _ := cmd.Flags().GetString("title")
		category, _ := cmd.Flags().GetString("category")

		if text == "" && fetchURL == "" && file == "" && pdf == "" {
			return fmt.Errorf("one of --text, --url, --file, or --pdf is required")
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}
		if category != "" {
			req["category"] = category
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case fetchURL != "":
			req["type"] = "url"
			req["url"] = fetchURL
		case pdf != "":
			data, err := os.ReadFile(pdf)
			if err != nil {
				return fmt.Errorf("reading pdf: %w", err)
			}
			req["type"] = "pdf"
			req["content"] = base64.StdEncoding.EncodeToString(data)
			if title == "" {
				req["title"] = pdf
			}
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["type"] = "text"
			req["content"] = string(data)
			if title == "" {
				req["title"] = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/knowledge", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result["status"] == "stored_without_embeddings" {
			printWarning("Stored doc %s without embeddings; retrieval falls back to keywords", result["id"])
			return nil
		}
		printSuccess("Indexed doc %s", result["id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "text file path to ingest")
	ingestCmd.Flags().String("pdf", "", "PDF file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("category", "", "category for the document")
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the knowledge base",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/knowledge?limit=%d", limit))
		if err != nil {
			return err
		}

		var docs []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Category string `json:"category"`
			Source   string `json:"source"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			line := fmt.Sprintf("%s  %s", colorize(colorCyan, d.ID[:8]), d.Title)
			if d.Category != "" {
				line += fmt.Sprintf("  [%s]", d.Category)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var knowledgeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a knowledge document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/knowledge/"+args[0])
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

var knowledgeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a knowledge document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/knowledge/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted doc %s", args[0])
		return nil
	},
}

func init() {
	knowledgeListCmd.Flags().Int("limit", 20, "maximum number of documents to list")
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeShowCmd)
	knowledgeCmd.AddCommand(knowledgeDeleteCmd)
}

// --- conversation ---

var conversationCmd = &cobra.Command{
	Use:   "conversation <phone>",
	Short: "Show the persisted transcript for a phone number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/conversations/%s?limit=%d", url.PathEscape(args[0]), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Identity string `json:"identity"`
			Turns    []struct {
				Speaker   string `json:"speaker"`
				Content   string `json:"content"`
				CreatedAt string `json:"createdAt"`
			} `json:"turns"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Turns) == 0 {
			fmt.Printf("No conversation found for %s.\n", result.Identity)
			return nil
		}
		for _, turn := range result.Turns {
			speaker := colorize(colorBold, turn.Speaker)
			if turn.Speaker == "assistant" {
				speaker = colorize(colorGreen, turn.Speaker)
			}
			fmt.Printf("%s  %s\n  %s\n", turn.CreatedAt, speaker, turn.Content)
		}
		return nil
	},
}

func init() {
	conversationCmd.Flags().Int("limit", 50, "maximum number of turns to show")
}

// --- relay-log ---

var relayLogCmd = &cobra.Command{
	Use:   "relay-log",
	Short: "Show recent relay delivery attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/relay-log?limit=%d", limit))
		if err != nil {
			return err
		}

		var records []struct {
			TraceID   string `json:"traceId"`
			Status    string `json:"status"`
			Attempts  int    `json:"attempts"`
			LastError string `json:"lastError"`
			CreatedAt string `json:"createdAt"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No relay deliveries recorded.")
			return nil
		}
		for _, rec := range records {
			status := colorize(colorGreen, rec.Status)
			if rec.Status != "delivered" {
				status = colorize(colorRed, rec.Status)
			}
			line := fmt.Sprintf("%s  %s  %s  attempts=%d", rec.CreatedAt, colorize(colorCyan, rec.TraceID[:8]), status, rec.Attempts)
			if rec.LastError != "" {
				line += "  " + rec.LastError
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	relayLogCmd.Flags().Int("limit", 20, "maximum number of records to show")
}

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with handoff and automation rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a rules file without starting the server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.Rules.File
		}
		if path == "" {
			return fmt.Errorf("no rules file given and WACHAT_RULES_FILE is not set")
		}

		rules, err := policy.LoadRules(path)
		if err != nil {
			return err
		}

		enabled := 0
		for _, r := range rules.HandoffRules {
			if r.Enabled {
				enabled++
			}
		}
		for _, r := range rules.AutomationRules {
			if r.Enabled {
				enabled++
			}
		}
		printSuccess("%s is valid: %d handoff keywords, %d rules (%d enabled)",
			path, len(rules.HandoffKeywords), len(rules.HandoffRules)+len(rules.AutomationRules), enabled)
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, kv := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
