// cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/automation"
	"github.com/unclebandit/outreach-backend/internal/cache"
	"github.com/unclebandit/outreach-backend/internal/channel"
	"github.com/unclebandit/outreach-backend/internal/circuit"
	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/controller"
	"github.com/unclebandit/outreach-backend/internal/db"
	"github.com/unclebandit/outreach-backend/internal/dispatch"
	"github.com/unclebandit/outreach-backend/internal/eventbus"
	"github.com/unclebandit/outreach-backend/internal/handler"
	"github.com/unclebandit/outreach-backend/internal/idempotency"
	"github.com/unclebandit/outreach-backend/internal/queue"
	"github.com/unclebandit/outreach-backend/internal/ratelimit"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/scheduler"
	"github.com/unclebandit/outreach-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, relying on OS environment variables")
	}
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer conn.Close()

	rdb, err := cache.NewClient(cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	targetRepo := &repository.TargetRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	leadRepo := &repository.LeadRepository{DB: conn}
	tenantRepo := &repository.TenantRepository{DB: conn}
	automationRepo := &repository.AutomationRepository{DB: conn}

	var q queue.Queue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.NewAMQPQueue(cfg.AMQPURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer amqpQueue.Close()
		q = amqpQueue
	} else {
		// Single-process mode for local development: the dispatch pipeline
		// runs on in-process consumers instead of a separate worker.
		log.Warn().Msg("AMQP_URL not set, running with in-memory queue and in-process consumers")
		mem := queue.NewInMemoryQueue()
		q = mem
		startInProcessConsumers(cfg, mem, rdb, targetRepo, campaignRepo, leadRepo, tenantRepo, automationRepo)
	}

	bus := eventbus.New(q)
	guard := idempotency.NewGuard(rdb, cfg.IdempotencyTTL)

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		LeadRepo:     leadRepo,
		TargetRepo:   targetRepo,
		Events:       bus,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
	}

	webhookHandler := &handler.WebhookHandler{
		Targets:   targetRepo,
		Campaigns: campaignRepo,
		Guard:     guard,
		Events:    bus,
	}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/activate", campaignController.ActivateCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)

	// Provider status callbacks
	r.Post("/webhooks/sms/status", webhookHandler.SMSStatus)
	r.Post("/webhooks/email/status", webhookHandler.EmailStatus)
	r.Post("/webhooks/voice/status", webhookHandler.VoiceStatus)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("🚀 server running")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func startInProcessConsumers(
	cfg config.Config,
	q queue.Queue,
	rdb *redis.Client,
	targetRepo *repository.TargetRepository,
	campaignRepo *repository.CampaignRepository,
	leadRepo *repository.LeadRepository,
	tenantRepo *repository.TenantRepository,
	automationRepo *repository.AutomationRepository,
) {
	registry := channel.NewRegistry(
		&channel.SMSSender{Client: channel.NewBrevoClient(cfg.BrevoAPIKey, cfg.BrevoBaseURL, cfg.SendTimeout), From: os.Getenv("SMS_SENDER")},
		&channel.WhatsAppSender{Client: channel.NewBrevoClient(cfg.BrevoAPIKey, cfg.BrevoBaseURL, cfg.SendTimeout), From: os.Getenv("WHATSAPP_SENDER")},
		&channel.EmailSender{Client: channel.NewBrevoClient(cfg.BrevoAPIKey, cfg.BrevoBaseURL, cfg.SendTimeout), FromEmail: os.Getenv("EMAIL_SENDER"), FromName: os.Getenv("EMAIL_SENDER_NAME")},
		channel.NewVoiceSender(cfg.VapiAPIKey, cfg.VapiBaseURL, os.Getenv("VAPI_PHONE_NUMBER_ID"), cfg.SendTimeout),
	)

	bus := eventbus.New(q)
	dispatcher := &dispatch.Dispatcher{
		Targets:     targetRepo,
		Campaigns:   campaignRepo,
		Leads:       leadRepo,
		Tenants:     tenantRepo,
		Limiter:     ratelimit.NewLimiter(rdb),
		Breaker:     circuit.NewBreaker(rdb, cfg.CircuitThreshold, cfg.CircuitRecovery),
		Registry:    registry,
		Events:      bus,
		RateLimit:   cfg.RateLimitPerMinute,
		RateWindow:  time.Minute,
		SendTimeout: cfg.SendTimeout,
	}
	engine := &automation.Engine{
		Rules:       automationRepo,
		Leads:       leadRepo,
		Registry:    registry,
		Queue:       q,
		SendTimeout: cfg.SendTimeout,
	}
	sched := &scheduler.Scheduler{
		Targets:   targetRepo,
		Campaigns: campaignRepo,
		Leads:     leadRepo,
		Queue:     q,
		Interval:  cfg.SchedulerInterval,
		BatchSize: cfg.SchedulerBatchSize,
	}

	ctx := context.Background()

	q.Subscribe(queue.TopicDispatch, func(body []byte) error {
		var job dispatch.Job
		if err := json.Unmarshal(body, &job); err != nil {
			return nil
		}
		return dispatcher.Dispatch(ctx, job.TargetID)
	})
	q.Subscribe(queue.TopicAutomationEvents, func(body []byte) error {
		var ev eventbus.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil
		}
		return engine.HandleEvent(ctx, ev)
	})
	q.Subscribe(queue.TopicAutomationActions, func(body []byte) error {
		var job automation.ActionJob
		if err := json.Unmarshal(body, &job); err != nil {
			return nil
		}
		return engine.ExecuteAction(ctx, job)
	})

	go sched.Start(ctx)
}
