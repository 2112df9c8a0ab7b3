// Command whiz is the InfraWhiz operator console. It holds the command
// session, asks before anything destructive runs, and talks to the backend
// over a WebSocket channel.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bdobrica/InfraWhiz/common/observability"
	"github.com/bdobrica/InfraWhiz/common/version"
	"github.com/bdobrica/InfraWhiz/internal/console/classify"
	"github.com/bdobrica/InfraWhiz/internal/console/config"
	"github.com/bdobrica/InfraWhiz/internal/console/matrix"
	"github.com/bdobrica/InfraWhiz/internal/console/metrics"
	"github.com/bdobrica/InfraWhiz/internal/console/operator"
	"github.com/bdobrica/InfraWhiz/internal/console/repl"
	"github.com/bdobrica/InfraWhiz/internal/console/session"
	"github.com/bdobrica/InfraWhiz/internal/console/transport"
)

var (
	urlFlag    string
	policyFlag string
	noColor    bool
	headless   bool
)

var rootCmd = &cobra.Command{
	Use:           "whiz",
	Short:         "Talk to your servers in plain language, with a confirmation before anything destructive.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("url") {
			cfg.URL = urlFlag
		}
		if cmd.Flags().Changed("policy") {
			cfg.PolicyFile = policyFlag
		}
		if noColor {
			cfg.NoColor = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info("whiz"))
	},
}

func init() {
	rootCmd.Flags().StringVar(&urlFlag, "url", "", "backend gateway URL (overrides WHIZ_URL)")
	rootCmd.Flags().StringVar(&policyFlag, "policy", "", "destructive-command policy file (overrides WHIZ_POLICY_FILE)")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "serve the Matrix room only, without a terminal console")
	rootCmd.AddCommand(versionCmd)
}

func run(parent context.Context, cfg *config.Config) error {
	observability.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := classify.LoadRulePolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	var classifierOpts []classify.Option
	if cfg.ConfirmUnknown {
		classifierOpts = append(classifierOpts, classify.WithUnknownTypes(classify.Confirmable))
	}

	ws := transport.NewWebSocket(transport.WebSocketConfig{URL: cfg.URL})
	sess, err := session.New(session.Config{
		Transport:        ws,
		Classifier:       classify.New(policy, classifierOpts...),
		SubmitTimeout:    cfg.SubmitTimeout,
		ExecutionTimeout: cfg.ExecutionTimeout,
	})
	if err != nil {
		return err
	}
	var cacheOpts []metrics.Option
	if cfg.MetricsStaleGuard {
		cacheOpts = append(cacheOpts, metrics.WithStaleGuard())
	}
	op := operator.New(sess, metrics.New(ws, cacheOpts...), operator.NewDirectory(ws), ws)
	slog.Info("session created", "session", sess.ID())

	var console *repl.Console
	if !headless {
		console = repl.New(op, os.Stdin, color.Output, cfg.NoColor)
	}

	if cfg.Matrix.Enabled() {
		bridge, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			RoomID:      cfg.Matrix.RoomID,
			Operators:   cfg.Matrix.Operators,
		}, op)
		if err != nil {
			return err
		}
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Stop()
	} else if headless {
		return fmt.Errorf("--headless requires a Matrix room (WHIZ_MATRIX_*)")
	}

	if err := ws.Start(ctx); err != nil {
		return err
	}
	defer ws.Stop()
	go sess.RunExpiry(ctx, time.Second)

	if console == nil {
		<-ctx.Done()
		return nil
	}
	return console.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
