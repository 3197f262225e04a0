package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/taskdesk/internal/devserver"
)

func devserverCmd() *cobra.Command {
	var addr, dbPath, secret, uploadDir string
	var seed bool

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local task server backed by SQLite",
		Long: `Run a local task server that speaks the same REST and push
protocol as production.

Examples:
  taskdesk devserver --seed
  taskdesk devserver --addr :5000 --db ./dev.db --secret s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()

			store, err := devserver.OpenStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if seed {
				if err := devserver.Seed(cmd.Context(), store); err != nil {
					return err
				}
			}

			srv := devserver.New(store,
				devserver.WithSecret(secret),
				devserver.WithUploadDir(uploadDir),
				devserver.WithLogger(e.log.Named("devserver")),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s (database %s)\n", addr, dbPath)
			if seed {
				fmt.Fprintf(cmd.OutOrStdout(), "Demo accounts use password %q\n", devserver.DemoPassword)
			}
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":5000", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "taskdesk-dev.db", "SQLite database path (:memory: for a throwaway one)")
	cmd.Flags().StringVar(&secret, "secret", devserver.DefaultSecret, "token signing secret")
	cmd.Flags().StringVar(&uploadDir, "uploads", "", "upload directory (default: a temp dir)")
	cmd.Flags().BoolVar(&seed, "seed", false, "create demo users and tasks")

	return cmd
}
