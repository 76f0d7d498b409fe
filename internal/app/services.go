package app

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/qcat/internal/config"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/plugins/dispatcher"
	"github.com/keyxmakerx/qcat/internal/plugins/locks"
	"github.com/keyxmakerx/qcat/internal/plugins/mailprefs"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
	"github.com/keyxmakerx/qcat/internal/plugins/smtp"
	"github.com/keyxmakerx/qcat/internal/plugins/workflow"
	"github.com/keyxmakerx/qcat/internal/search"
)

// Services is the wired service graph shared by the HTTP server and the
// qcatctl commands.
type Services struct {
	Auth          auth.AuthService
	Questionnaire questionnaires.QuestionnaireRepository
	Logs          notifications.LogRepository
	Locks         locks.LockService
	Permissions   *permissions.Service
	Inbox         notifications.InboxService
	Preferences   mailprefs.PreferencesService
	Workflow      *workflow.Service
	Txs           database.Transactor
}

// NewServices builds every service on top of the shared pools. A broken
// grants file is reported as invalid configuration.
func NewServices(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*Services, error) {
	grants, err := permissions.LoadGrants(cfg.GrantsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	txs := database.NewTransactor(db)
	authService := auth.NewAuthService(auth.NewUserRepository(db), rdb, cfg.Auth.SessionTTL)
	qnRepo := questionnaires.NewQuestionnaireRepository(db)
	logRepo := notifications.NewLogRepository(db)
	lockService := locks.NewLockService(locks.NewLockRepository(), db, txs, cfg.Locks.TTL)
	permService := permissions.NewService(authService, qnRepo, lockService, db, grants)
	inbox := notifications.NewInboxService(
		notifications.NewInboxRepository(db), permService, rdb, cfg.Notifications.UnreadCacheTTL)
	prefs := mailprefs.NewPreferencesService(
		mailprefs.NewPreferencesRepository(db), authService,
		cfg.Notifications.UnsubscribeSalt, cfg.BaseURL)

	versions := workflow.NewVersioningService(workflow.Deps{
		Repo:     qnRepo,
		Logs:     logRepo,
		Auth:     permService,
		Locks:    lockService,
		Users:    authService,
		Unread:   inbox,
		Audience: permissions.Audience{Grants: grants, Users: authService},
		DB:       db,
		Txs:      txs,
	})

	return &Services{
		Auth:          authService,
		Questionnaire: qnRepo,
		Logs:          logRepo,
		Locks:         lockService,
		Permissions:   permService,
		Inbox:         inbox,
		Preferences:   prefs,
		Workflow:      workflow.NewService(versions, search.NewIndexer(cfg.Search.URL, cfg.Search.Timeout)),
		Txs:           txs,
	}, nil
}

// Dispatcher returns a mail dispatcher sending through transport.
func (s *Services) Dispatcher(cfg *config.Config, transport smtp.Transport) *dispatcher.Dispatcher {
	return dispatcher.New(
		s.Logs,
		s.Questionnaire,
		s.Auth,
		s.Preferences,
		s.Inbox,
		s.Permissions.Grants(),
		transport,
		s.Txs,
		dispatcher.Config{
			BaseURL:   cfg.BaseURL,
			StaffOnly: cfg.Notifications.DoSendStaffOnly,
			Batch:     cfg.Notifications.DispatchBatch,
		},
	)
}

// MailSettings converts the mail configuration for the SMTP transport.
func MailSettings(cfg config.MailConfig) smtp.Settings {
	return smtp.Settings{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Encryption:  cfg.Encryption,
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
	}
}
