//go:build cgo

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/facegate/facegate/pkg/auth"
	"github.com/facegate/facegate/pkg/clock"
	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/recognition"
	"github.com/facegate/facegate/pkg/server"
	"github.com/facegate/facegate/pkg/session"
	"github.com/facegate/facegate/pkg/storage"
	"github.com/facegate/facegate/pkg/vision"
)

const version = "0.1.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

func init() {
	commands = map[string]*Command{
		"serve": {
			Name:        "serve",
			Description: "Start the authentication server",
			Usage:       "facegate serve",
			Run:         cmdServe,
		},
		"enroll": {
			Name:        "enroll",
			Description: "Enroll a face from one or more image files",
			Usage:       "facegate enroll <name> <image.jpg> [more images...]",
			Run:         cmdEnroll,
		},
		"list": {
			Name:        "list",
			Description: "List all enrolled names",
			Usage:       "facegate list",
			Run:         cmdList,
		},
		"remove": {
			Name:        "remove",
			Description: "Remove an enrolled name's face data",
			Usage:       "facegate remove <name>",
			Run:         cmdRemove,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the dlib model files",
			Usage:       "facegate download-models [directory]",
			Run:         cmdDownloadModels,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "facegate config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "facegate version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "facegate help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	// Parse global flags
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

	// A .env file may carry deployment overrides; absence is fine.
	_ = godotenv.Load()

	// Load configuration
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	cfg.ApplyEnv()
	cfg.ExpandPaths()

	// Initialize logging
	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("FaceGate v%s starting", version)
	logging.Debugf("Config loaded, storage dir: %s", cfg.Storage.DataDir)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("FaceGate - Liveness-Checked Face Authentication")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: facegate [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range []string{"serve", "enroll", "list", "remove", "download-models", "config", "version", "help"} {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nRun 'facegate help <command>' for command details.")
}

// cmdServe wires the full stack and serves HTTP until interrupted.
func cmdServe(args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to open template store: %w", err)
	}

	provider := vision.NewDlibProvider()
	if err := provider.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("failed to load models (try 'facegate download-models'): %w", err)
	}
	defer provider.Close()

	clk := clock.Real()

	var issuer auth.TokenIssuer
	if cfg.Auth.TokenSecret != "" {
		jwtIssuer, err := auth.NewJWTIssuer(cfg.Auth, clk)
		if err != nil {
			return err
		}
		issuer = jwtIssuer
	} else {
		logging.Warn("FACEGATE_TOKEN_SECRET not set, access tokens disabled")
	}

	handoff := auth.NewHandoff(provider, store, issuer, cfg.Recognition)
	registry := session.NewRegistry(cfg, clk, provider, provider, handoff)
	defer registry.Close()

	return server.New(cfg, registry, store).Run()
}

// cmdEnroll registers a name from image files, one embedding per image.
func cmdEnroll(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", commands["enroll"].Usage)
	}

	name := auth.SanitizeName(args[0])
	if name == "" {
		return auth.ErrInvalidName
	}
	images := args[1:]

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to open template store: %w", err)
	}

	provider := vision.NewDlibProvider()
	if err := provider.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("failed to load models (try 'facegate download-models'): %w", err)
	}
	defer provider.Close()

	for i, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		descriptor, _, err := provider.Embed(data)
		if err != nil {
			return fmt.Errorf("no usable face in %s: %w", path, err)
		}

		embedding := recognition.Embedding{Vector: descriptor, Quality: 1.0, Angle: "front"}
		if i == 0 {
			err = store.Append(name, embedding)
		} else {
			err = store.AddEmbedding(name, embedding)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Added embedding from %s\n", path)
	}

	fmt.Printf("User %s registered.\n", name)
	return nil
}

func cmdList(args []string) error {
	store, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to open template store: %w", err)
	}

	names, err := store.List()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Println("No enrolled names.")
		return nil
	}

	fmt.Printf("Enrolled names (%d):\n", len(names))
	for _, name := range names {
		record, err := store.Get(name)
		if err != nil {
			fmt.Printf("  %s (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Printf("  %s: %d embedding(s), enrolled %s\n",
			name, len(record.Embeddings), record.EnrolledAt.Format("2006-01-02"))
	}
	return nil
}

func cmdRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s", commands["remove"].Usage)
	}

	store, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to open template store: %w", err)
	}

	if err := store.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed face data for %s\n", args[0])
	return nil
}

func cmdConfig(args []string) error {
	fmt.Println("Current configuration:")
	fmt.Printf("  Server addr:        %s\n", cfg.Server.Addr)
	fmt.Printf("  Data directory:     %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Model path:         %s\n", cfg.Recognition.ModelPath)
	fmt.Printf("  Encryption:         %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Printf("  Match threshold:    %.2f\n", cfg.Recognition.MatchThreshold)
	fmt.Printf("  Min margin:         %.2f\n", cfg.Recognition.MinMargin)
	fmt.Printf("  Challenge window:   %s\n", cfg.Liveness.ChallengeWindow())
	fmt.Printf("  Max retries:        %d\n", cfg.Liveness.MaxRetries)
	fmt.Printf("  Emotion interval:   %s\n", cfg.Emotion.SampleInterval())
	fmt.Printf("  Session idle TTL:   %s\n", cfg.Session.IdleTTL())
	fmt.Printf("  Log level:          %s\n", cfg.Logging.Level)
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("FaceGate v%s\n", version)
	return nil
}

func cmdHelp(args []string) error {
	if len(args) > 0 {
		cmd, ok := commands[args[0]]
		if !ok {
			return fmt.Errorf("unknown command: %s", args[0])
		}
		fmt.Printf("%s - %s\n\nUsage: %s\n", cmd.Name, cmd.Description, cmd.Usage)
		return nil
	}

	printUsage()
	return nil
}
