package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/web-agent/web-agent/internal/adapter"
	"github.com/web-agent/web-agent/internal/adapter/dom"
	"github.com/web-agent/web-agent/internal/browser"
	"github.com/web-agent/web-agent/internal/config"
	"github.com/web-agent/web-agent/internal/drafter"
	"github.com/web-agent/web-agent/internal/notify"
	"github.com/web-agent/web-agent/internal/orchestrator"
	"github.com/web-agent/web-agent/internal/session"
	"github.com/web-agent/web-agent/internal/site"
	"github.com/web-agent/web-agent/internal/store"
	"github.com/web-agent/web-agent/internal/web"
)

var (
	cfgFile string
	verbose bool
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "web-agent",
		Short: "web-agent - Draft and send replies on marketplace message inboxes",
		Long: `web-agent reads unread conversations on a marketplace site through an
authenticated browser, drafts replies with a language model, and sends
them only after you have reviewed them in a markdown file.

Typical flow:
  web-agent auth spare-room
  web-agent run --site spare-room
  web-agent review --site spare-room
  web-agent send --site spare-room --review-file data/review-spare-room-<date>.md`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.web-agent/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(sitesCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	sites  *site.Catalog
	logger *slog.Logger
}

func loadEnv() (*env, error) {
	logger := newLogger()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	sites, err := site.Load(cfg.Paths.SitesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load sites: %w", err)
	}
	return &env{cfg: cfg, sites: sites, logger: logger}, nil
}

func (e *env) site(id string) (*site.Site, error) {
	if id == "" {
		return nil, &config.ConfigError{Field: "site", Reason: "--site is required"}
	}
	s := e.sites.FindByID(id)
	if s == nil {
		return nil, &config.ConfigError{Field: "site", Reason: fmt.Sprintf("unknown site %q (known: %s)", id, strings.Join(e.sites.IDs(), ", "))}
	}
	return s, nil
}

func (e *env) session(siteID, mode string) (*session.Session, error) {
	m, err := session.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Mode:        m,
		Site:        siteID,
		StatePath:   e.cfg.StatePath(siteID),
		ProfilePath: e.cfg.ProfilePath(siteID),
	})
}

func (e *env) browserConfig() browser.Config {
	bc := browser.DefaultConfig()
	bc.Headless = e.cfg.Browser.Headless
	if e.cfg.Browser.TimeoutSec > 0 {
		bc.Timeout = time.Duration(e.cfg.Browser.TimeoutSec) * time.Second
	}
	if e.cfg.Browser.UserAgent != "" {
		bc.UserAgent = e.cfg.Browser.UserAgent
	}
	return bc
}

// openAdapter launches an authenticated browser for the site and builds its
// adapter. The caller closes the browser.
func (e *env) openAdapter(ctx context.Context, s *site.Site, authMode string) (*browser.Browser, adapter.SiteAdapter, error) {
	sess, err := e.session(s.ID, authMode)
	if err != nil {
		return nil, nil, err
	}
	b, err := browser.Launch(ctx, e.browserConfig(), sess, e.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	registry := adapter.NewRegistry()
	dom.Register(registry, e.sites, e.logger)
	a, err := registry.New(s.ID, b)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return b, a, nil
}

func (e *env) openStore() (*store.Store, error) {
	st, err := store.Open(e.cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open draft store: %w", err)
	}
	return st, nil
}

func (e *env) notifier() *notify.Notifier {
	n, err := notify.New(e.cfg.Notify, e.logger)
	if err != nil {
		e.logger.Warn("notifications disabled", "error", err)
		return nil
	}
	return n
}

func authCmd() *cobra.Command {
	var profile bool
	var loginURL string

	cmd := &cobra.Command{
		Use:   "auth <site>",
		Short: "Log in to a site and save the session",
		Long: `Open a visible browser at the site's login page. Sign in by hand, then
press Enter here. The session is saved to the secrets directory (or kept in
a persistent browser profile with --profile) for later runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			s, err := e.site(args[0])
			if err != nil {
				return err
			}
			mode := string(session.ModeStorage)
			if profile {
				mode = string(session.ModeProfile)
			}
			sess, err := e.session(s.ID, mode)
			if err != nil {
				return err
			}
			if loginURL == "" {
				loginURL = s.LoginURL
			}

			fmt.Printf("🔐 Opening %s login page...\n", s.Name)
			wait := func() error {
				fmt.Println("   Log in in the browser window, then press Enter here.")
				_, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && err != io.EOF {
					return err
				}
				return cmd.Context().Err()
			}
			if err := browser.RecordLogin(cmd.Context(), e.browserConfig(), sess, loginURL, wait, e.logger); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			if sess.Mode() == session.ModeStorage {
				fmt.Printf("✅ Session saved to %s\n", sess.StatePath())
			} else {
				fmt.Printf("✅ Session kept in profile %s\n", sess.ProfilePath())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&profile, "profile", false, "Keep the login in a persistent browser profile instead of a state file")
	cmd.Flags().StringVar(&loginURL, "url", "", "Login URL (default is the site's login page)")

	return cmd
}

func runCmd() *cobra.Command {
	var siteID, authMode string
	var dryRun, asJSON bool
	var maxThreads int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Draft replies for unread threads",
		Long: `Fetch unread threads, skip those drafted in the last 24 hours, and store a
drafted reply for each of the rest as pending. Nothing is sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			s, err := e.site(siteID)
			if err != nil {
				return err
			}

			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := drafter.New(drafter.Options{
				Command:      e.cfg.Drafter.Command,
				Args:         e.cfg.Drafter.Args,
				TemplatePath: e.cfg.Drafter.Template,
				Timeout:      e.cfg.Drafter.Timeout(),
				Logger:       e.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to load drafter: %w", err)
			}

			b, a, err := e.openAdapter(cmd.Context(), s, authMode)
			if err != nil {
				return err
			}
			defer b.Close()

			if !cmd.Flags().Changed("max-threads") {
				maxThreads = e.cfg.Run.MaxThreads
			}
			if dryRun || e.cfg.Run.DryRun {
				fmt.Println("🔍 DRY RUN MODE - drafts are stored, nothing is sent")
				fmt.Println()
			}
			fmt.Printf("📥 Checking %s for unread threads...\n", s.Name)

			res := orchestrator.Run(cmd.Context(), orchestrator.RunOptions{
				Site:       s.ID,
				Adapter:    a,
				Store:      st,
				Drafter:    d,
				DryRun:     dryRun || e.cfg.Run.DryRun,
				MaxThreads: maxThreads,
				ReadDelay:  e.cfg.Run.ReadDelay(),
				Logger:     e.logger,
			})
			e.notifier().RunCompleted(context.WithoutCancel(cmd.Context()), s.ID, res)

			if asJSON {
				return printJSON(os.Stdout, res)
			}
			printRunResult(os.Stdout, s.ID, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Site to process (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Mark the run as a dry run")
	cmd.Flags().IntVar(&maxThreads, "max-threads", orchestrator.DefaultMaxThreads, "Maximum threads to process")
	cmd.Flags().StringVar(&authMode, "auth-mode", "storage", "Session mode: storage or profile")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	cmd.MarkFlagRequired("site")

	return cmd
}

func reviewCmd() *cobra.Command {
	var siteID, output string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Write pending drafts to a markdown review file",
		Long: `Write every pending draft of a site to a markdown file. Edit a reply in
place to change it, delete its whole section to reject it, then pass the
file to "web-agent send".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			s, err := e.site(siteID)
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if output == "" {
				output = e.cfg.ReviewPath(s.ID, time.Now())
			}
			count, err := orchestrator.GenerateReview(cmd.Context(), orchestrator.ReviewOptions{
				Site:       s.ID,
				Store:      st,
				OutputPath: output,
				Logger:     e.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to generate review: %w", err)
			}

			if count == 0 {
				fmt.Printf("📭 No pending drafts for %s\n", s.ID)
				return nil
			}
			fmt.Printf("📝 Wrote %d drafts to %s\n", count, output)
			fmt.Println()
			fmt.Println("Edit the file, then run:")
			fmt.Printf("  web-agent send --site %s --review-file %s\n", s.ID, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Site to review (required)")
	cmd.Flags().StringVar(&output, "output", "", "Review file path (default is <data_dir>/review-<site>-<date>.md)")
	cmd.MarkFlagRequired("site")

	return cmd
}

func sendCmd() *cobra.Command {
	var siteID, reviewFile, authMode string
	var yes, dryRun, asJSON bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the replies kept in an edited review file",
		Long: `Send every draft still present in the review file, with the text as
edited. Drafts that were already sent, or whose drafting failed and were not
rewritten, are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			s, err := e.site(siteID)
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			content, err := os.ReadFile(reviewFile)
			if err != nil {
				return fmt.Errorf("failed to read review file: %w", err)
			}
			approved := orchestrator.ParseReview(string(content))
			if len(approved) == 0 {
				fmt.Println("📭 No approved drafts in the review file.")
				return nil
			}

			opts := orchestrator.SendOptions{
				Site:           s.ID,
				Store:          st,
				ReviewFilePath: reviewFile,
				SendDelay:      e.cfg.Send.SendDelay(),
				DryRun:         dryRun,
				Logger:         e.logger,
			}

			if dryRun {
				fmt.Println("🔍 DRY RUN MODE - nothing will be sent")
				fmt.Println()
			} else {
				if !yes && !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Send %d replies on %s?", len(approved), s.Name)) {
					fmt.Println("Aborted.")
					return nil
				}
				b, a, err := e.openAdapter(cmd.Context(), s, authMode)
				if err != nil {
					return err
				}
				defer b.Close()
				opts.Adapter = a
			}

			fmt.Printf("📤 Sending replies on %s...\n", s.Name)
			res := orchestrator.SendApprovedReplies(cmd.Context(), opts)
			if !dryRun {
				e.notifier().SendCompleted(context.WithoutCancel(cmd.Context()), s.ID, res)
			}

			if asJSON {
				return printJSON(os.Stdout, res)
			}
			printSendResult(os.Stdout, res, dryRun)
			return nil
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Site to send on (required)")
	cmd.Flags().StringVar(&reviewFile, "review-file", "", "Edited review file (required)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Count what would be sent without sending")
	cmd.Flags().StringVar(&authMode, "auth-mode", "storage", "Session mode: storage or profile")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the send summary as JSON")
	cmd.MarkFlagRequired("site")
	cmd.MarkFlagRequired("review-file")

	return cmd
}

func statusCmd() *cobra.Command {
	var siteID string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show draft statistics and recent drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.GetStats(cmd.Context(), siteID)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			drafts, err := st.ListDrafts(cmd.Context(), siteID, "", limit)
			if err != nil {
				return fmt.Errorf("failed to get recent drafts: %w", err)
			}
			printStatus(os.Stdout, siteID, stats, drafts, limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Only count drafts of this site")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent drafts to show")

	return cmd
}

func sitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the sites web-agent can drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}

			fmt.Printf("📋 Sites (%d total)\n", len(e.sites.Sites))
			fmt.Println(separator)
			for _, s := range e.sites.Sites {
				fmt.Printf("\n%s [%s]\n", s.Name, s.ID)
				fmt.Printf("  🔗 Login: %s\n", s.LoginURL)
				fmt.Printf("  📬 Messages: %s\n", s.MessagesURL)
				if _, err := os.Stat(e.cfg.StatePath(s.ID)); err == nil {
					fmt.Println("  🔐 Session saved")
				}
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var port int
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local review dashboard",
		Long: `Start a local web server with a dashboard over the draft store. It lists
pending drafts per site, previews the review document, and writes review
files. It never sends replies; use "web-agent send" for that.

The server listens on 127.0.0.1 only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if !cmd.Flags().Changed("port") {
				port = e.cfg.Serve.Port
			}
			server, err := web.NewServer(web.Options{
				Port:        port,
				Store:       st,
				Sites:       e.sites,
				ReviewPath:  e.cfg.ReviewPath,
				OpenBrowser: open,
				Logger:      e.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create web server: %w", err)
			}

			go func() {
				<-cmd.Context().Done()
				fmt.Println("\nShutting down...")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				server.Shutdown(ctx)
			}()

			fmt.Printf("Starting web-agent dashboard at http://localhost:%d\n", port)
			fmt.Println("Press Ctrl+C to stop")
			return server.Start()
		},
	}

	cmd.Flags().IntVar(&port, "port", 8420, "Port to listen on")
	cmd.Flags().BoolVar(&open, "open", false, "Open the dashboard in the default browser")

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
