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
	"strings"
	"time"

	"github.com/numrelay/numrelay/internal/config"
	"github.com/numrelay/numrelay/internal/version"
)

type cliOptions struct {
	configPath  string
	apiBaseURL  string
	apiKey      string
	timeout     time.Duration
	showVersion bool
}

const usage = `Usage: relayctl [flags] <command> [args]

Commands:
  create -source <ref> -target <ref> [-owner <name>]   register a binding
  update <id> [-source <ref>] [-target <ref>]          repoint a binding
  remove <id>                                          delete a binding
  list                                                 list bindings
  status <id>                                          binding counters
  confirmed <source_id> [-limit <n>]                   confirmed filter entries
  daemon-status                                        daemon status summary
`

func main() {
	opts, args := parseFlags()
	if opts.showVersion {
		fmt.Printf("relayctl %s\n", version.GetInfo())
		return
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(opts.apiBaseURL) == "" {
		opts.apiBaseURL = defaultAPIBaseURL(cfg.Server.Addr)
	}
	opts.apiBaseURL = normalizeBaseURL(opts.apiBaseURL)
	if opts.apiKey == "" {
		opts.apiKey = strings.TrimSpace(cfg.Admin.APIKey)
	}
	if opts.apiKey == "" {
		opts.apiKey = strings.TrimSpace(os.Getenv("RELAY_API_KEY"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	api := &apiClient{
		base:   opts.apiBaseURL,
		apiKey: opts.apiKey,
		http:   &http.Client{Timeout: opts.timeout},
	}

	if err := runCommand(ctx, api, args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, api *apiClient, args []string) error {
	command, rest := args[0], args[1:]
	switch command {
	case "create":
		return cmdCreate(ctx, api, rest)
	case "update":
		return cmdUpdate(ctx, api, rest)
	case "remove":
		return cmdRemove(ctx, api, rest)
	case "list":
		return api.get(ctx, "/bindings")
	case "status":
		if len(rest) != 1 {
			return fmt.Errorf("usage: relayctl status <id>")
		}
		return api.get(ctx, "/bindings/"+url.PathEscape(rest[0])+"/status")
	case "confirmed":
		return cmdConfirmed(ctx, api, rest)
	case "daemon-status":
		return api.get(ctx, "/status")
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func cmdCreate(ctx context.Context, api *apiClient, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	source := fs.String("source", "", "Source channel (@name or numeric ID)")
	target := fs.String("target", "", "Target channel (@name or numeric ID)")
	owner := fs.String("owner", "", "Owner label")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" || *target == "" {
		return fmt.Errorf("create: -source and -target are required")
	}
	return api.send(ctx, http.MethodPost, "/bindings", map[string]string{
		"source": *source,
		"target": *target,
		"owner":  *owner,
	})
}

func cmdUpdate(ctx context.Context, api *apiClient, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: relayctl update <id> [-source <ref>] [-target <ref>]")
	}
	id, rest := args[0], args[1:]
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	source := fs.String("source", "", "New source channel (empty keeps current)")
	target := fs.String("target", "", "New target channel (empty keeps current)")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	return api.send(ctx, http.MethodPatch, "/bindings/"+url.PathEscape(id), map[string]string{
		"source": *source,
		"target": *target,
	})
}

func cmdRemove(ctx context.Context, api *apiClient, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: relayctl remove <id>")
	}
	return api.send(ctx, http.MethodDelete, "/bindings/"+url.PathEscape(args[0]), nil)
}

func cmdConfirmed(ctx context.Context, api *apiClient, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: relayctl confirmed <source_id> [-limit <n>]")
	}
	sourceID, rest := args[0], args[1:]
	fs := flag.NewFlagSet("confirmed", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Maximum entries to return")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	path := "/sources/" + url.PathEscape(sourceID) + "/confirmed"
	if *limit > 0 {
		path += fmt.Sprintf("?limit=%d", *limit)
	}
	return api.get(ctx, path)
}

func parseFlags() (cliOptions, []string) {
	var opts cliOptions
	defaultConfig := os.Getenv("CONFIG_PATH")
	if strings.TrimSpace(defaultConfig) == "" {
		defaultConfig = config.DefaultConfigPath
	}

	flag.StringVar(&opts.configPath, "config", defaultConfig, "Path to config.toml")
	flag.StringVar(&opts.apiBaseURL, "api-url", "", "API server base URL (e.g. http://127.0.0.1:8080)")
	flag.StringVar(&opts.apiKey, "api-key", "", "Operator API key (or set RELAY_API_KEY)")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version information")
	flag.Parse()

	return opts, flag.Args()
}

func normalizeBaseURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

func defaultAPIBaseURL(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return "http://127.0.0.1:8080"
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return normalizeBaseURL(trimmed)
	}
	if strings.HasPrefix(trimmed, ":") {
		return "http://127.0.0.1" + trimmed
	}
	return "http://" + trimmed
}

type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func (a *apiClient) get(ctx context.Context, path string) error {
	return a.do(ctx, http.MethodGet, path, nil)
}

func (a *apiClient) send(ctx context.Context, method, path string, payload map[string]string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	return a.do(ctx, method, path, body)
}

func (a *apiClient) do(ctx context.Context, method, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(payload)))
	}
	printJSON(payload)
	return nil
}

func printJSON(payload []byte) {
	if len(bytes.TrimSpace(payload)) == 0 {
		fmt.Println("ok")
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		fmt.Println(string(payload))
		return
	}
	fmt.Println(out.String())
}
