package bootstrap

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"mailvault/adapter/in/http"
	"mailvault/config"
	"mailvault/pkg/logger"
)

// NewAPI builds the Fiber app over an already wired dependency set.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "mailvault",
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             10 * 1024 * 1024,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{ContextKey: "request_id"}))
	app.Use(requestLogger())

	auth := http.JWTAuth(cfg.JWTSecret)

	http.NewHealthHandler(deps.Store, deps.Redis).Register(app)
	http.NewTaskHandler(deps.Tasks).Register(app, auth)
	http.NewMailHandler(deps.MailService, deps.Tasks).Register(app, auth)
	http.NewAccountHandler(deps.Accounts).Register(app, auth)

	return app
}

// requestLogger logs one line per request.
func requestLogger() fiber.Handler {
	log := logger.Component("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		requestID, _ := c.Locals("request_id").(string)
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Str("request_id", requestID).
			Msg("request")
		return err
	}
}
