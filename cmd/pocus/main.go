package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pocus/internal/bootstrap"
	"pocus/internal/devserver"
	studydomain "pocus/internal/modules/study/domain"
	uploaddomain "pocus/internal/modules/upload/domain"
	"pocus/internal/modules/workspace/dto"
	"pocus/internal/platform/config"
	"pocus/internal/platform/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "pocus",
		Short:         "Point-of-care ultrasound case review",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML config file (optional)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override: trace|debug|info|warn|error")

	root.AddCommand(newDevServerCmd(flags))
	root.AddCommand(newLoginCmd(flags))
	root.AddCommand(newSignOutCmd(flags))
	root.AddCommand(newInstitutionsCmd(flags))
	root.AddCommand(newStudiesCmd(flags))
	root.AddCommand(newUploadCmd(flags))
	root.AddCommand(newUploadsCmd(flags))
	root.AddCommand(newTUICmd(flags))
	return root
}

func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

func loadApp(flags *globalFlags, logOut io.Writer) (*bootstrap.App, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg, logging.New(cfg.LogLevel, logOut))
}

// withWorkspace restores the saved session and hands the dashboard to fn.
func withWorkspace(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, app *bootstrap.App, snap dto.Snapshot) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := loadApp(flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	snap, err := app.WorkspaceCLI.Bootstrap(ctx)
	if err != nil {
		return err
	}
	switch snap.Phase {
	case "dashboard":
	case "selecting_institution":
		return errors.New("no institution selected; run `pocus institutions select <slug>`")
	default:
		return errors.New("not signed in; run `pocus login`")
	}
	return fn(ctx, app, snap)
}

// ─── devserver ───────────────────────────────────────────────────────────────

func newDevServerCmd(flags *globalFlags) *cobra.Command {
	var addr, seedPath, code string
	var failPatches int

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory backend for local development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cmd.ErrOrStderr())

			seed, err := devserver.DefaultSeed()
			if seedPath != "" {
				seed, err = devserver.LoadSeed(seedPath)
			}
			if err != nil {
				return err
			}
			srv, err := devserver.New(devserver.Options{
				AnonKey:     cfg.AnonKey,
				Seed:        seed,
				Logger:      logger.Named("devserver"),
				Code:        code,
				FailPatches: failPatches,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			errs := make(chan error, 1)
			go func() { errs <- srv.Start(addr) }()
			logger.Info("devserver listening", "addr", addr)

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:54321", "listen address")
	cmd.Flags().StringVar(&seedPath, "seed", "", "seed YAML (defaults to the built-in fixtures)")
	cmd.Flags().StringVar(&code, "code", "", "fixed one-time code for every sign-in")
	cmd.Flags().IntVar(&failPatches, "fail-patches", 0, "answer the first n upload chunks with 503")
	return cmd
}

// ─── auth ────────────────────────────────────────────────────────────────────

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var email, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a one-time email code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			snap, err := app.WorkspaceCLI.Bootstrap(ctx)
			if err != nil {
				return err
			}
			if snap.SessionActive {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "already signed in as %s\n", snap.Email)
				return nil
			}

			in := bufio.NewReader(cmd.InOrStdin())
			if strings.TrimSpace(email) == "" {
				if email, err = prompt(cmd, in, "email: "); err != nil {
					return err
				}
			}
			if err := app.WorkspaceCLI.RequestCode(ctx, email); err != nil {
				return err
			}
			if strings.TrimSpace(code) == "" {
				if code, err = prompt(cmd, in, "code sent to "+email+": "); err != nil {
					return err
				}
			}
			snap, err = app.WorkspaceCLI.VerifyCode(ctx, code)
			if err != nil {
				return err
			}
			return printPhase(cmd, snap)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&code, "code", "", "one-time code (prompted when empty)")
	return cmd
}

func newSignOutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			if _, err := app.WorkspaceCLI.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			if err := app.WorkspaceCLI.SignOut(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

// ─── institutions ────────────────────────────────────────────────────────────

func newInstitutionsCmd(flags *globalFlags) *cobra.Command {
	institutions := &cobra.Command{Use: "institutions", Short: "Institution membership"}

	institutions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List institutions you belong to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			snap, err := app.WorkspaceCLI.Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			if !snap.SessionActive && len(snap.Memberships) == 0 {
				return errors.New("not signed in; run `pocus login`")
			}
			for _, m := range snap.Memberships {
				marker := " "
				if snap.Membership != nil && snap.Membership.InstitutionID == m.InstitutionID {
					marker = "*"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\t%s\n", marker, m.Institution.Slug, m.Institution.Name, m.Role)
			}
			return nil
		},
	})

	institutions.AddCommand(&cobra.Command{
		Use:   "select <slug|id>",
		Short: "Switch the active institution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			if _, err := app.WorkspaceCLI.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			snap, err := app.WorkspaceCLI.SelectInstitution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printPhase(cmd, snap)
		},
	})
	return institutions
}

// ─── studies ─────────────────────────────────────────────────────────────────

func newStudiesCmd(flags *globalFlags) *cobra.Command {
	studies := &cobra.Command{Use: "studies", Short: "Study lifecycle commands"}

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List studies in the active institution",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				snap, err := app.WorkspaceCLI.ListStudies(ctx, filter)
				if err != nil {
					return err
				}
				if len(snap.Studies) == 0 {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "no studies (%s)\n", snap.Filter)
					return nil
				}
				for _, s := range snap.Studies {
					printStudyRow(cmd, s)
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&filter, "filter", "", "drafts|queue|reviewable|completed|all")

	var notes string
	create := &cobra.Command{
		Use:   "create <exam type>",
		Short: "Create a draft study",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				snap, err := app.WorkspaceCLI.CreateStudy(ctx, strings.Join(args, " "), notes)
				if err != nil {
					return err
				}
				printDetail(cmd, snap)
				return nil
			})
		},
	}
	create.Flags().StringVar(&notes, "notes", "", "initial notes")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a study with its media and review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				snap, err := app.WorkspaceCLI.ShowStudy(ctx, args[0])
				if err != nil {
					return err
				}
				printDetail(cmd, snap)
				return nil
			})
		},
	}

	submit := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a draft for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				if _, err := app.WorkspaceCLI.ShowStudy(ctx, args[0]); err != nil {
					return err
				}
				snap, err := app.WorkspaceCLI.SubmitStudy(ctx, args[0])
				if err != nil {
					return err
				}
				printDetail(cmd, snap)
				return nil
			})
		},
	}

	var decision, rating, comments string
	review := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve a submitted study or send it back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				if _, err := app.WorkspaceCLI.ShowStudy(ctx, args[0]); err != nil {
					return err
				}
				snap, err := app.WorkspaceCLI.ReviewStudy(ctx, args[0], decision, rating, comments)
				if err != nil {
					return err
				}
				printDetail(cmd, snap)
				return nil
			})
		},
	}
	review.Flags().StringVar(&decision, "decision", "", "approve|revise")
	review.Flags().StringVar(&rating, "rating", "", "rating from 1 to 5")
	review.Flags().StringVar(&comments, "comments", "", "feedback for the author")
	_ = review.MarkFlagRequired("decision")

	finalize := &cobra.Command{
		Use:   "finalize <id>",
		Short: "Sign off an approved study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				if _, err := app.WorkspaceCLI.ShowStudy(ctx, args[0]); err != nil {
					return err
				}
				snap, err := app.WorkspaceCLI.FinalizeStudy(ctx, args[0])
				if err != nil {
					return err
				}
				printDetail(cmd, snap)
				return nil
			})
		},
	}

	notesCmd := &cobra.Command{
		Use:   "notes <id> <text>",
		Short: "Replace a study's notes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				if _, err := app.WorkspaceCLI.ShowStudy(ctx, args[0]); err != nil {
					return err
				}
				snap, err := app.WorkspaceCLI.SaveNotes(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				printDetail(cmd, snap)
				return nil
			})
		},
	}

	metrics := &cobra.Command{
		Use:   "metrics",
		Short: "Summarise the institution's studies (administrators)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				snap, err := app.WorkspaceCLI.ListStudies(ctx, "")
				if err != nil {
					return err
				}
				if snap.Metrics == nil {
					return errors.New("program metrics are available to administrators only")
				}
				m := snap.Metrics
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "studies\t%d\nsubmitters\t%d\nawaiting review\t%d\nreviewed\t%d\nacceptance\t%.0f%%\n",
					m.Studies, m.Submitters, m.AwaitingReview, m.Reviewed, m.AcceptanceRate*100)
				for _, status := range studydomain.Statuses() {
					_, _ = fmt.Fprintf(out, "  %s\t%d\n", status, m.ByStatus[status])
				}
				return nil
			})
		},
	}

	studies.AddCommand(list, create, show, submit, review, finalize, notesCmd, metrics)
	return studies
}

// ─── uploads ─────────────────────────────────────────────────────────────────

func newUploadCmd(flags *globalFlags) *cobra.Command {
	var contentType string
	var detach bool

	cmd := &cobra.Command{
		Use:   "upload <study id> <path>...",
		Short: "Upload media files to a study",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() { _ = app.WorkspaceCLI.Run(ctx) }()

				ids := make([]uuid.UUID, 0, len(args)-1)
				for _, path := range args[1:] {
					taskID, err := app.WorkspaceCLI.Upload(ctx, args[0], path, contentType)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s\n", taskID, filepath.Base(path))
					ids = append(ids, taskID)
				}
				if detach {
					return nil
				}
				return awaitUploads(ctx, cmd, app, ids)
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (guessed from the extension when empty)")
	cmd.Flags().BoolVar(&detach, "detach", false, "return once queued; unfinished uploads resume with `pocus uploads resume`")
	return cmd
}

func newUploadsCmd(flags *globalFlags) *cobra.Command {
	uploads := &cobra.Command{Use: "uploads", Short: "Interrupted upload recovery"}

	uploads.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Resume uploads left unfinished by an earlier run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() { _ = app.WorkspaceCLI.Run(ctx) }()

				n, err := app.WorkspaceCLI.ResumeUploads(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nothing to resume")
					return nil
				}
				snap := app.WorkspaceCLI.Snapshot()
				ids := make([]uuid.UUID, 0, len(snap.Uploads))
				for _, view := range snap.Uploads {
					ids = append(ids, view.Task.ID)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "resumed %d uploads\n", n)
				return awaitUploads(ctx, cmd, app, ids)
			})
		},
	})

	uploads.AddCommand(&cobra.Command{
		Use:   "cancel <task id>",
		Short: "Abandon an unfinished upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, flags, func(ctx context.Context, app *bootstrap.App, _ dto.Snapshot) error {
				if err := app.WorkspaceCLI.CancelUpload(ctx, args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
				return nil
			})
		},
	})
	return uploads
}

// awaitUploads prints progress until every task is recorded as media or has failed.
func awaitUploads(ctx context.Context, cmd *cobra.Command, app *bootstrap.App, ids []uuid.UUID) error {
	out := cmd.OutOrStdout()
	last := map[uuid.UUID]string{}
	var firstBanner uint64
	seenFirst := false
	failed := 0

	for snap := range app.WorkspaceCLI.Watch(ctx) {
		if !seenFirst {
			firstBanner, seenFirst = snap.BannerSeq, true
		}
		bannerRaised := snap.BannerSeq != firstBanner && snap.Banner != ""

		done := true
		failed = 0
		for _, id := range ids {
			view, ok := snap.Upload(id)
			if !ok {
				done = false
				continue
			}
			line := uploadLine(view)
			if last[id] != line {
				last[id] = line
				_, _ = fmt.Fprintf(out, "%s %s\n", id.String()[:8], line)
			}
			switch {
			case view.Persisted:
			case view.Task.Status == uploaddomain.StatusFailed:
				failed++
			case view.Task.Status == uploaddomain.StatusCompleted && bannerRaised:
				failed++
			default:
				done = false
			}
		}
		if done {
			if bannerRaised {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), snap.Banner)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads did not finish", failed, len(ids))
			}
			return nil
		}
	}
	return ctx.Err()
}

func uploadLine(view dto.UploadView) string {
	task := view.Task
	switch {
	case view.Persisted:
		return "saved"
	case task.Status == uploaddomain.StatusFailed:
		return "failed: " + task.Reason
	case task.Status == uploaddomain.StatusCompleted:
		return "uploaded, recording media"
	default:
		return fmt.Sprintf("%s %3.0f%%", task.Status, task.Progress()*100)
	}
}

// ─── tui ─────────────────────────────────────────────────────────────────────

func newTUICmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
				return err
			}
			logFile, err := os.OpenFile(filepath.Join(cfg.StateDir, "pocus.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return err
			}
			defer logFile.Close()

			app, err := bootstrap.New(cfg, logging.New(cfg.LogLevel, logFile))
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					app.Logger.Warn("close app", "error", err)
				}
			}()
			return bootstrap.RunTUI(cmd.Context(), app)
		},
	}
}

// ─── output ──────────────────────────────────────────────────────────────────

func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	_, _ = fmt.Fprint(cmd.OutOrStdout(), label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printPhase(cmd *cobra.Command, snap dto.Snapshot) error {
	out := cmd.OutOrStdout()
	switch snap.Phase {
	case "dashboard":
		_, _ = fmt.Fprintf(out, "signed in as %s at %s (%s)\n", snap.Email, snap.Membership.Institution.Name, snap.Membership.Role)
	case "selecting_institution":
		_, _ = fmt.Fprintf(out, "signed in as %s; choose an institution with `pocus institutions select <slug>`:\n", snap.Email)
		for _, m := range snap.Memberships {
			_, _ = fmt.Fprintf(out, "  %s\t%s\t%s\n", m.Institution.Slug, m.Institution.Name, m.Role)
		}
	default:
		_, _ = fmt.Fprintf(out, "phase: %s\n", snap.Phase)
	}
	if snap.Banner != "" {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), snap.Banner)
	}
	return nil
}

func printStudyRow(cmd *cobra.Command, s studydomain.Study) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", s.ID, s.Status, s.ExamType, s.CreatedAt.Local().Format(time.DateTime))
}

func printDetail(cmd *cobra.Command, snap dto.Snapshot) {
	out := cmd.OutOrStdout()
	d := snap.Detail
	if d == nil {
		_, _ = fmt.Fprintln(out, "no study open")
		return
	}
	s := d.Study
	_, _ = fmt.Fprintf(out, "id: %s\nexam: %s\nstatus: %s\ncreated: %s\n", s.ID, s.ExamType, s.Status, s.CreatedAt.Local().Format(time.DateTime))
	if s.SubmittedAt != nil {
		_, _ = fmt.Fprintf(out, "submitted: %s\n", s.SubmittedAt.Local().Format(time.DateTime))
	}
	if s.Notes != nil {
		_, _ = fmt.Fprintf(out, "notes: %s\n", *s.Notes)
	}
	_, _ = fmt.Fprintf(out, "media: %d\n", len(d.Media))
	for _, m := range d.Media {
		_, _ = fmt.Fprintf(out, "  %s\t%s\t%s\n", m.ID, m.Kind, m.StoragePath)
	}
	for _, fb := range d.Feedback {
		rating := "-"
		if fb.Rating != nil {
			rating = fmt.Sprint(*fb.Rating)
		}
		comments := ""
		if fb.Comments != nil {
			comments = *fb.Comments
		}
		_, _ = fmt.Fprintf(out, "feedback: rating=%s %s\n", rating, comments)
	}
	if d.Signoff != nil {
		_, _ = fmt.Fprintf(out, "signoff: %s\n", d.Signoff.Status)
	}
}
