package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/gradebook/apps/api/echo"
	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
	appfs "github.com/trezcool/gradebook/fs"
	emailsvc "github.com/trezcool/gradebook/services/email"
	logsvc "github.com/trezcool/gradebook/services/logger"
	"github.com/trezcool/gradebook/services/ratelimit"
	"github.com/trezcool/gradebook/services/session"
	"github.com/trezcool/gradebook/storage/database"
	sqlxrepos "github.com/trezcool/gradebook/storage/database/sqlx"
	"github.com/trezcool/gradebook/storage/files"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Redis wraps the optional shared store; Client is nil when no address is configured.
type Redis struct {
	Client *redis.Client
}

func (r Redis) Close() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.Pinger) {
	database.SetMigrationLogger(loggerParam.Logger)

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newRedis(conf *core.Config, logger core.Logger) Redis {
	if conf.Redis.Address == "" {
		logger.Info("redis not configured: sessions and login throttling stay in process")
		return Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis at %s: %v", conf.Redis.Address, err), err)
	}
	return Redis{Client: client}
}

func newSessionManager(conf *core.Config, rdb Redis) *session.Manager {
	if rdb.Client == nil {
		return session.NewManager(conf, session.NewMemoryStore())
	}
	return session.NewManager(conf, session.NewRedisStore(rdb.Client))
}

func newLimiter(conf *core.Config, rdb Redis) ratelimit.Limiter {
	if rdb.Client == nil {
		return ratelimit.NewMemoryLimiter(conf.Login)
	}
	return ratelimit.NewRedisLimiter(rdb.Client, conf.Login)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newFileStore(conf *core.Config, logger core.Logger) *files.Store {
	store, err := files.NewStore(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("preparing upload directory: %v", err), err)
	}
	return store
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	grade.InitValidators(validate, translator)
	return validate
}

func newGradeService(
	repo grade.Repository,
	clsRepo classroom.Repository,
	usrRepo user.Repository,
	store *files.Store,
	logger core.Logger,
) *grade.Service {
	return grade.NewService(repo, clsRepo, usrRepo, store, logger)
}

type depsParam struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	DB         core.Pinger
	Validate   *validator.Validate
	Translator ut.Translator
	UserSvc    *user.Service
	ClassSvc   *classroom.Service
	GradeSvc   *grade.Service
	Sessions   *session.Manager
	Limiter    ratelimit.Limiter
	Files      *files.Store
}

func newServer(p depsParam) (*echoapi.Server, error) {
	core.ParseEmailTemplates(appfs.FS, "templates/email", p.Conf, p.Logger)

	return echoapi.NewServer(&echoapi.Deps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		DB:         p.DB,
		Validate:   p.Validate,
		Translator: p.Translator,
		UserSvc:    p.UserSvc,
		ClassSvc:   p.ClassSvc,
		GradeSvc:   p.GradeSvc,
		Sessions:   p.Sessions,
		Limiter:    p.Limiter,
		Files:      p.Files,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRedis))
	must(c.Provide(newSessionManager))
	must(c.Provide(newLimiter))
	must(c.Provide(newEmailService))
	must(c.Provide(newFileStore))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewClassroomRepository))
	must(c.Provide(sqlxrepos.NewGradeRepository))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(user.NewService))
	must(c.Provide(classroom.NewService))
	must(c.Provide(newGradeService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
