package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/barterlabs/go-barter/env"
	"github.com/barterlabs/go-barter/middleware"
	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/persist/redis"
	sentryutil "github.com/barterlabs/go-barter/service/sentry"
	"github.com/barterlabs/go-barter/service/tenant"
	"github.com/barterlabs/go-barter/service/webhook"
	"github.com/barterlabs/go-barter/validate"
)

// Init initializes the server
func Init() {
	setDefaults()

	ctx := context.Background()
	logger.SetLoggerOptions(func(l *logrus.Logger) {
		l.SetFormatter(&logrus.JSONFormatter{})
	})
	sentryutil.Init(ctx)

	engine := tenant.NewEngine(NewStore(ctx), webhook.NewHTTPTransport())
	if err := engine.LoadFromStore(ctx); err != nil {
		logger.For(ctx).Errorf("restoring tenants failed: %s", err)
	}

	router := CoreInit(engine)
	http.Handle("/", router)
}

// CoreInit initializes core server functionality. This is abstracted
// so the test server can also utilize it
func CoreInit(engine *tenant.Engine) *gin.Engine {
	logger.For(nil).Info("initializing server...")

	if env.GetString(nil, "ENV") != "production" {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	}

	router := gin.Default()
	router.Use(middleware.Sentry(true), middleware.HandleCORS(), middleware.GinContextToContext(), middleware.ErrLogger())

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		logger.For(nil).Info("registering validation")
		validate.RegisterCustomValidators(v)
	}

	return handlersInit(router, engine)
}

// NewStore picks the persistence backend from the environment. Redis when
// configured, in-memory otherwise.
func NewStore(ctx context.Context) persist.Store {
	if env.GetString(ctx, "REDIS_URL") != "" {
		store, err := redis.NewStore(ctx)
		if err != nil {
			panic(err)
		}
		return store
	}
	return persist.NewMemoryStore()
}

func setDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("PORT", 4000)
	viper.SetDefault("ADMIN_PASS", "TEST_ADMIN_PASS")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("REDIS_PASS", "")
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("VERSION", "")
	viper.AutomaticEnv()
}
