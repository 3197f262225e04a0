package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/app"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/logging"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
)

var Version = "dev"

// env is what every subcommand needs after flags are parsed.
type env struct {
	cfg      *model.AppConfig
	log      *zap.SugaredLogger
	tokens   *credential.Store
	tokenKey string
	sessions *session.Manager
	close    func()
}

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "taskdesk",
		Short:   "Terminal client for the task server",
		Version: Version,
		RunE:    runTUI,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also log to stderr (headless commands)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(devserverCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, the logger, and the keyring. console selects
// whether log lines also go to stderr.
func setup(console bool) (*env, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	opts := logging.Options{}
	if console && verbose {
		opts.Console = os.Stderr
	}
	log, closeLog, err := logging.New(cfg.Log, opts)
	if err != nil {
		return nil, err
	}

	tokens, err := credential.Open()
	if err != nil {
		closeLog()
		return nil, err
	}

	log.Infow("starting", "version", Version, "server", cfg.Server.BaseURL)
	return &env{
		cfg:      cfg,
		log:      log,
		tokens:   tokens,
		tokenKey: credential.TokenKey(cfg.Server.BaseURL),
		sessions: session.NewManager(cfg, log.Named("session")),
		close:    closeLog,
	}, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()
	defer e.sessions.Logout()

	m := app.New(app.Deps{
		Config:   e.cfg,
		Sessions: e.sessions,
		Tokens:   e.tokens,
		TokenKey: e.tokenKey,
		Log:      e.log.Named("app"),

		ConfigPath: configPath,
	})
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
