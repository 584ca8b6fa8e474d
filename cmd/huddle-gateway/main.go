// ABOUTME: Entry point for huddle-gateway chat server
// ABOUTME: Serves the REST and WebSocket API and provides setup and token commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/huddle-gateway/internal/auth"
	"github.com/2389/huddle-gateway/internal/config"
	"github.com/2389/huddle-gateway/internal/gateway"
	"github.com/2389/huddle-gateway/internal/secret"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _               _     _ _
 | |__  _   _  __| | __| | | ___
 | '_ \| | | |/ _' |/ _' | |/ _ \
 | | | | |_| | (_| | (_| | |  __/
 |_| |_|\__,_|\__,_|\__,_|_|\___|
`

const defaultTokenTTL = 30 * 24 * time.Hour

// getDataPath returns the directory holding the gateway database.
// Priority: XDG_DATA_HOME/huddle > ~/.local/share/huddle
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "huddle")
}

func usage() {
	fmt.Println("Usage: huddle-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  keygen                         Print a fresh credential encryption key")
	fmt.Println("  token --identity ID [--ttl D]  Issue a client token for an identity")
	fmt.Println("  health                         Check gateway health")
	fmt.Println("  ready                          Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "keygen":
		err = runKeygen()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	if cfg.Bots.DefaultAPIKey == "" {
		yellow.Print("    ! ")
		fmt.Println("No default bot key configured; default assistant disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting huddle-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runKeygen() error {
	key, err := secret.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

// tokenArgs holds the parsed flags of the token command.
type tokenArgs struct {
	identity string
	ttl      time.Duration
}

// parseTokenArgs accepts both "--flag value" and "--flag=value" forms.
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--identity", "-i", "--ttl":
		default:
			if strings.HasPrefix(arg, "-") {
				return out, fmt.Errorf("unknown flag: %s", arg)
			}
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		if name == "--ttl" {
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return out, fmt.Errorf("invalid --ttl %q", value)
			}
			out.ttl = d
			continue
		}
		out.identity = strings.TrimSpace(value)
	}

	if out.identity == "" {
		return out, fmt.Errorf("--identity flag is required")
	}
	return out, nil
}

func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(parsed.identity, parsed.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// initAnswers collects everything runInit writes to the config file.
type initAnswers struct {
	grpcAddr      string
	httpAddr      string
	dbPath        string
	jwtSecret     string
	encryptionKey string
	defaultAPIKey string
	tailscale     bool
	tsHostname    string
	tsAuthKey     string
	tsEphemeral   bool
	tsFunnel      bool
	logLevel      string
	logFormat     string
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("huddle-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.httpAddr = prompt(reader, "HTTP address", "localhost:8080")
	a.grpcAddr = prompt(reader, "gRPC health address (empty to disable)", "localhost:50051")

	fmt.Println("\n--- Database Configuration ---")
	a.dbPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "gateway.db"))

	fmt.Println("\n--- Bots ---")
	a.defaultAPIKey = prompt(reader, "Default assistant API key (empty to disable)", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	a.tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.tailscale {
		a.tsHostname = prompt(reader, "Tailscale hostname", "huddle")
		a.tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		a.tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		a.tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.logLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, "Log format (text/json)", "text")

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	a.jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)

	key, err := secret.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating encryption key: %w", err)
	}
	a.encryptionKey = key

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// Holds secrets, so owner-only.
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written to %s\n", outputFile)
	fmt.Printf("  Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Println("  huddle-gateway serve")
	fmt.Println("To issue a client token:")
	fmt.Println("  huddle-gateway token --identity alice")

	return nil
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# huddle-gateway configuration\n")
	b.WriteString("# Generated by huddle-gateway init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.httpAddr)
	if a.grpcAddr != "" {
		fmt.Fprintf(&b, "  grpc_addr: %q\n", a.grpcAddr)
	}
	b.WriteString("\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", a.dbPath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n\n", a.jwtSecret)

	b.WriteString("crypto:\n")
	fmt.Fprintf(&b, "  encryption_key: %q\n\n", a.encryptionKey)

	b.WriteString("bots:\n")
	if a.defaultAPIKey != "" {
		fmt.Fprintf(&b, "  default_api_key: %q\n", a.defaultAPIKey)
	}
	b.WriteString("  history_limit: 20\n")
	b.WriteString("  dispatch_timeout: \"30s\"\n\n")

	b.WriteString("tailscale:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", a.tailscale)
	if a.tailscale {
		fmt.Fprintf(&b, "  hostname: %q\n", a.tsHostname)
		if a.tsAuthKey != "" {
			fmt.Fprintf(&b, "  auth_key: %q\n", a.tsAuthKey)
		}
		fmt.Fprintf(&b, "  ephemeral: %t\n", a.tsEphemeral)
		fmt.Fprintf(&b, "  funnel: %t\n", a.tsFunnel)
	}
	b.WriteString("\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.logLevel)
	fmt.Fprintf(&b, "  format: %q\n\n", a.logFormat)

	b.WriteString("metrics:\n")
	b.WriteString("  enabled: false\n")
	fmt.Fprintf(&b, "  path: %q\n", config.DefaultMetricsPath)

	return b.String()
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
