package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"livequiz-service/internal/app"
	"livequiz-service/internal/config"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
	pgloader "livequiz-service/internal/infra/postgres"
	redisinfra "livequiz-service/internal/infra/redis"
	"livequiz-service/internal/transport/rest"
	"livequiz-service/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
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
	sessionTTL := config.TTLDuration(cfg.Session.TTL, 2*time.Hour)
	retention := config.TTLDuration(cfg.Session.Retention, time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var quizRepo app.QuizRepository
	if redisClient != nil {
		var loader redisinfra.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
		if pool != nil {
			loader = pgloader.NewQuizLoader(pool)
		}
		quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
		if pool != nil {
			loader = pgloader.NewQuizLoader(pool)
		}
		quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.SessionStore
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, sessionTTL, retention)
	} else {
		store = memory.NewSessionStore()
	}

	var opts []app.Option
	if cfg.Session.JoinCodeLength > 0 {
		opts = append(opts, app.WithJoinCodeLength(cfg.Session.JoinCodeLength))
	}
	if cfg.Session.QuestionTimeLimit > 0 {
		opts = append(opts, app.WithDefaultTimeLimit(cfg.Session.QuestionTimeLimit))
	}
	manager := app.NewSessionManager(store, quizRepo, opts...)

	registry := ws.NewConnectionRegistry()
	hub := ws.NewHub(manager, registry)
	manager.SetEventSink(hub)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/ws", hub.ServeWS)
	rest.NewHandler(manager).Register(router)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	server := &http.Server{
		Addr:    ":" + finalPort,
		Handler: handler,
		// Read/write timeouts would kill long-lived websockets, so only the
		// header read is bounded.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("starting live quiz service on :%s", finalPort)
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

// sampleQuizzes seeds a minimal catalog when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"general-1": {
			ID:    "general-1",
			Title: "General Knowledge",
			Questions: []domain.Question{
				{
					Prompt:    "What is 2 + 2?",
					Choices:   []string{"3", "4", "5"},
					Answer:    "4",
					TimeLimit: 20,
				},
				{
					Prompt:    "Which planet is known as the Red Planet?",
					Choices:   []string{"Venus", "Mars", "Jupiter"},
					Answer:    "Mars",
					TimeLimit: 20,
				},
				{
					Prompt:    "What is the capital of France?",
					Choices:   []string{"Lyon", "Marseille", "Paris"},
					Answer:    "Paris",
					TimeLimit: 20,
				},
			},
		},
	}
}
