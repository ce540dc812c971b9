package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"turnstile/internal/app"
	"turnstile/internal/config"
	"turnstile/internal/httpapi"
	"turnstile/internal/logging"
	"turnstile/internal/ui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	version   = "0.1.0"
	cfgFile   string
	model     string
	sessionID string
	verbose   bool
	watch     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "turnstile",
		Short: "Route conversational turns to commands, generation or tools",
		Long: `Turnstile classifies each line of input as a command, a prompt or a
workflow and routes it to the command handler, direct generation or a
bounded tool loop, streaming the answer back as it is produced.`,
		SilenceUsage: true,
		RunE:         runREPL,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/turnstile/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use (default is "+config.DefaultModel+")")
	rootCmd.PersistentFlags().BoolVar(&watch, "watch", true, "reload the classifier when the config file changes")
	rootCmd.Flags().StringVar(&sessionID, "session", "default", "session id for the conversation history")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the classification of every turn")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API and the MCP endpoint",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "mcp",
			Short: "Serve MCP over stdio",
			Args:  cobra.NoArgs,
			RunE:  runMCP,
		},
		&cobra.Command{
			Use:   "classify <input>",
			Short: "Classify input and print the result as JSON",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runClassify,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("turnstile version %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if model != "" {
		cfg.Backend.Model = model
	}
	cfg.Version = version
	return cfg, nil
}

// start loads the configuration, sets up logging and builds the app.
func start(ctx context.Context, interactive bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := app.SetupLogging(cfg.Logging, interactive); err != nil {
		return nil, err
	}
	a, err := app.NewBuilder(cfg).
		WithVersion(version).
		WithConfigWatch(watch).
		Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return a, nil
}

func runREPL(cmd *cobra.Command, args []string) error {
	ctx, stop := app.SignalContext(cmd.Context())
	defer stop()

	a, err := start(ctx, true)
	if err != nil {
		return err
	}
	defer logging.Close()
	defer a.Close()

	renderer, err := ui.NewRenderer(os.Stdout, rendererOptions(os.Stdout)...)
	if err != nil {
		return err
	}

	info := a.Router.Info()
	fmt.Printf("turnstile %s · %s/%s · type %shelp for commands, exit to quit\n",
		version, info.Provider, info.Model, a.Router.Config().CommandPrefix)

	return repl(ctx, os.Stdin, renderer, func(input string) {
		renderer.Render(a.Router.ProcessTurn(ctx, input, sessionID))
	})
}

// rendererOptions picks the markdown style and wrap width for out.
func rendererOptions(out *os.File) []ui.RendererOption {
	opts := []ui.RendererOption{ui.WithClassification(verbose)}
	fd := int(out.Fd())
	if !term.IsTerminal(fd) {
		return append(opts, ui.WithMarkdownStyle("notty"), ui.WithWordWrap(0))
	}
	if width, _, err := term.GetSize(fd); err == nil && width > 20 {
		opts = append(opts, ui.WithWordWrap(min(width-4, 120)))
	}
	return opts
}

// repl reads one turn per line until EOF, exit or cancellation.
func repl(ctx context.Context, in io.Reader, r *ui.Renderer, turn func(string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Print(r.Styles().PromptString())
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			input := strings.TrimSpace(line)
			switch input {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
			turn(input)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := app.SignalContext(cmd.Context())
	defer stop()

	a, err := start(ctx, false)
	if err != nil {
		return err
	}
	defer logging.Close()
	defer a.Close()

	err = httpapi.Serve(ctx, a.Config.Server.Addr, a.HTTPHandler())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := app.SignalContext(cmd.Context())
	defer stop()

	a, err := start(ctx, false)
	if err != nil {
		return err
	}
	defer logging.Close()
	defer a.Close()

	logging.Info("serving mcp over stdio", "version", version)
	err = a.MCPServer().ServeStdio(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := start(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.Router.Classifier().Classify(ctx, strings.Join(args, " "), nil)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
