package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-session-service/internal/app"
	"live-session-service/internal/config"
	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
	pgloader "live-session-service/internal/infra/postgres"
	redisinfra "live-session-service/internal/infra/redis"
	transport "live-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	templateTTL := config.TTLDuration(cfg.Session.TemplateTTL, 10*time.Minute)
	timerTick := config.TTLDuration(cfg.Session.TimerTick, time.Second)

	var (
		activations app.ActivationStore
		pointers    app.PointerStore
		responses   app.ResponseLedger
		scores      app.ScoreLedger
		tallies     app.TallyStore
		templates   app.TemplateRepository
	)
	if redisClient != nil {
		activations = redisinfra.NewActivationStore(redisClient, redisTTL)
		pointers = redisinfra.NewPointerStore(redisClient)
		responses = redisinfra.NewResponseLedger(redisClient, redisTTL)
		scores = redisinfra.NewScoreLedger(redisClient, redisTTL)
		tallies = redisinfra.NewTallyStore(redisClient, redisTTL)
		if pool != nil {
			templates = redisinfra.NewTemplateRepository(redisClient, pgloader.NewTemplateLoader(pool), templateTTL)
		} else {
			templates = redisinfra.NewTemplateRepository(redisClient, memory.NewStaticTemplateLoader(sampleTemplates()), templateTTL)
		}
	} else {
		activations = memory.NewActivationStore()
		pointers = memory.NewPointerStore()
		responses = memory.NewResponseLedger()
		scores = memory.NewScoreLedger()
		tallies = memory.NewTallyStore()
		var loader memory.TemplateLoader = memory.NewStaticTemplateLoader(sampleTemplates())
		if pool != nil {
			loader = pgloader.NewTemplateLoader(pool)
		}
		templates = memory.NewTemplateRepository(loader, templateTTL)
	}

	service := app.NewSessionService(activations, pointers, responses, scores, tallies, templates, app.NewBroadcaster())
	wsHandler := transport.NewWSHandler(service)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go app.NewTimerCoordinator(service, pointers, timerTick).Watch(watchCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting session engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTemplates provides a minimal content set for running without
// Postgres; swap in the DB-backed loader in production.
func sampleTemplates() map[string]domain.Template {
	return map[string]domain.Template{
		"capital-fr": {
			ID:               "capital-fr",
			Kind:             domain.KindTextAnswer,
			Prompt:           "What is the capital of France?",
			ExactAnswer:      "Paris",
			TimeLimitSeconds: 20,
		},
		"two-plus-two": {
			ID:     "two-plus-two",
			Kind:   domain.KindMultipleChoice,
			Prompt: "What is 2 + 2?",
			Options: []domain.Option{
				{ID: "a", Text: "3"},
				{ID: "b", Text: "4"},
				{ID: "c", Text: "5"},
			},
			CorrectAnswer:    "b",
			TimeLimitSeconds: 10,
		},
		"favorite-season": {
			ID:     "favorite-season",
			Kind:   domain.KindPoll,
			Prompt: "Favorite season?",
			Options: []domain.Option{
				{ID: "spring", Text: "Spring"},
				{ID: "summer", Text: "Summer"},
				{ID: "fall", Text: "Fall"},
				{ID: "winter", Text: "Winter"},
			},
		},
		"standings": {
			ID:   "standings",
			Kind: domain.KindLeaderboard,
		},
	}
}
