// Command infrawhiz is the InfraWhiz backend. It keeps the server
// registry, turns plain-language requests into actions, and runs approved
// commands over SSH or docker exec.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/InfraWhiz/common/observability"
	"github.com/bdobrica/InfraWhiz/common/version"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/app"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/config"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/store"
)

var rootCmd = &cobra.Command{
	Use:           "infrawhiz",
	Short:         "InfraWhiz backend: server registry, intent parsing and remote execution.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console gateway and REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		observability.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer a.Stop()
		return a.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info("infrawhiz"))
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage registered servers",
}

var addInput registry.Input

var serversAddCmd = &cobra.Command{
	Use:   "add NAME HOSTNAME",
	Short: "Register a server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := addInput
		in.Name, in.Hostname = args[0], args[1]
		if in.Password == "" {
			in.Password = os.Getenv("INFRAWHIZ_SERVER_PASSWORD")
		}
		return withRegistry(cmd.Context(), func(reg *registry.Registry) error {
			srv, err := reg.Add(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Printf("added %s (%s)\n", srv.Name, srv.ID)
			return nil
		})
	},
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd.Context(), func(reg *registry.Registry) error {
			servers, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHOST\tAUTH")
			for _, s := range servers {
				host := fmt.Sprintf("%s@%s:%d", s.Username, s.Hostname, s.Port)
				if s.AuthMethod == registry.AuthDocker {
					host = s.Hostname
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, host, s.AuthMethod)
			}
			return tw.Flush()
		})
	},
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove NAME|ID",
	Short: "Remove a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd.Context(), func(reg *registry.Registry) error {
			srv, err := reg.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := reg.Remove(cmd.Context(), srv.ID); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", srv.Name)
			return nil
		})
	},
}

// withRegistry opens the configured database for a one-off registry
// operation. A running backend sees the change on its next lookup but
// consoles are not notified.
func withRegistry(ctx context.Context, fn func(*registry.Registry) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.Setup(os.Stderr, "warn", cfg.LogFormat)
	sealer, err := cfg.Sealer()
	if err != nil {
		return err
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(registry.New(st, sealer))
}

func init() {
	f := serversAddCmd.Flags()
	f.IntVar(&addInput.Port, "port", 22, "SSH port")
	f.StringVarP(&addInput.Username, "user", "u", "", "SSH username")
	f.StringVar(&addInput.AuthMethod, "auth", "", "password, key or docker (inferred when empty)")
	f.StringVar(&addInput.KeyPath, "key", "", "path to a private key")
	f.StringVar(&addInput.Password, "password", "", "SSH password (or INFRAWHIZ_SERVER_PASSWORD)")

	serversCmd.AddCommand(serversAddCmd, serversListCmd, serversRemoveCmd)
	rootCmd.AddCommand(serveCmd, serversCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
