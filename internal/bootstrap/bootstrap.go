package bootstrap

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	authoutadapter "pocus/internal/modules/auth/adapter/out"
	authservice "pocus/internal/modules/auth/service"
	authusecase "pocus/internal/modules/auth/usecase"
	membershipoutadapter "pocus/internal/modules/membership/adapter/out"
	membershipservice "pocus/internal/modules/membership/service"
	membershipusecase "pocus/internal/modules/membership/usecase"
	studyoutadapter "pocus/internal/modules/study/adapter/out"
	studyservice "pocus/internal/modules/study/service"
	studyusecase "pocus/internal/modules/study/usecase"
	uploadoutadapter "pocus/internal/modules/upload/adapter/out"
	uploadout "pocus/internal/modules/upload/port/out"
	uploadservice "pocus/internal/modules/upload/service"
	uploadusecase "pocus/internal/modules/upload/usecase"
	workspaceinadapter "pocus/internal/modules/workspace/adapter/in"
	workspaceoutadapter "pocus/internal/modules/workspace/adapter/out"
	workspaceout "pocus/internal/modules/workspace/port/out"
	workspaceusecase "pocus/internal/modules/workspace/usecase"
	"pocus/internal/platform/clock"
	"pocus/internal/platform/config"
	"pocus/internal/platform/id"
	"pocus/internal/platform/logging"
	"pocus/internal/platform/rest"
	"pocus/internal/platform/retry"
	uiapp "pocus/internal/ui/app"
)

type App struct {
	Config       config.Config
	Logger       hclog.Logger
	WorkspaceCLI workspaceinadapter.CLIHandler

	closers []func() error
}

func New(cfg config.Config, logger hclog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	clk := clock.SystemClock{}
	ids := id.RandomUUID{}
	app := &App{Config: cfg, Logger: logger}

	authSvc := authservice.NewAuthService(
		clk,
		authoutadapter.NewHTTPAuthAPI(rest.New(cfg.APIURL, cfg.AnonKey, nil)),
		authoutadapter.NewFileSessionStore(cfg.SessionPath()),
		logger,
	)
	authUC := authusecase.NewInteractor(authSvc)

	data := rest.New(cfg.APIURL, cfg.AnonKey, authUC.AccessToken)
	membershipUC := membershipusecase.NewInteractor(membershipservice.NewMembershipService(
		membershipoutadapter.NewHTTPMembershipAPI(data),
	))
	studyUC := studyusecase.NewInteractor(studyservice.NewStudyService(
		clk,
		ids,
		studyoutadapter.NewHTTPStudyAPI(data),
	))

	journal, err := newJournal(cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, journal.Close)
	engine := uploadusecase.NewInteractor(uploadservice.NewEngine(
		uploadservice.Config{
			Bucket:       cfg.Bucket,
			ChunkSize:    cfg.ChunkSize,
			Workers:      cfg.UploadWorkers,
			ChunkRetries: cfg.ChunkRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
		clk,
		ids,
		uploadoutadapter.NewTUSTransport(cfg.ResumableEndpoint(), cfg.AnonKey),
		journal,
		uploadoutadapter.NewFileSourceOpener(),
		authUC.AccessToken,
		logger,
	))
	app.closers = append(app.closers, engine.Close)

	prefs, err := newPreferences(cfg, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.closers = append(app.closers, prefs.Close)

	activity, err := newActivity(cfg, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.closers = append(app.closers, activity.Close)

	app.WorkspaceCLI = workspaceinadapter.NewCLIHandler(workspaceusecase.NewInteractor(workspaceusecase.Deps{
		Auth:        authUC,
		Memberships: membershipUC,
		Studies:     studyUC,
		Uploads:     engine,
		Preferences: prefs,
		Activity:    activity,
		Clock:       clk,
		Logger:      logger,
		AttachPolicy: retry.Policy{
			Attempts: cfg.ChunkRetries,
			Backoff:  cfg.RetryBackoff,
		},
	}))
	return app, nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

func newJournal(cfg config.Config) (uploadout.TaskJournal, error) {
	switch cfg.Journal {
	case "redis":
		journal, err := uploadoutadapter.NewRedisTaskJournal(context.Background(), cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("new redis journal: %w", err)
		}
		return journal, nil
	default:
		journal, err := uploadoutadapter.NewSQLiteTaskJournal(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("new sqlite journal: %w", err)
		}
		return journal, nil
	}
}

func newPreferences(cfg config.Config, logger hclog.Logger) (workspaceout.PreferenceStore, error) {
	if cfg.Preferences == "badger" {
		prefs, err := workspaceoutadapter.NewBadgerPreferenceStore(cfg.PreferencesPath(), logger)
		if err != nil {
			return nil, fmt.Errorf("new badger preferences: %w", err)
		}
		return prefs, nil
	}
	return workspaceoutadapter.NewFilePreferenceStore(cfg.PreferencesPath()), nil
}

func newActivity(cfg config.Config, logger hclog.Logger) (workspaceout.ActivityPublisher, error) {
	if cfg.AMQPURL == "" {
		return workspaceoutadapter.NewLogActivityPublisher(logger), nil
	}
	publisher, err := workspaceoutadapter.NewAMQPActivityPublisher(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("new amqp publisher: %w", err)
	}
	return publisher, nil
}

// RunTUI drives the terminal UI until the user quits. Upload events are
// consumed for the whole run.
func RunTUI(ctx context.Context, app *App) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = app.WorkspaceCLI.Run(ctx)
	}()
	model := uiapp.NewModel(ctx, app.WorkspaceCLI)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}
