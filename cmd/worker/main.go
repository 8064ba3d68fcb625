// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/automation"
	"github.com/unclebandit/outreach-backend/internal/cache"
	"github.com/unclebandit/outreach-backend/internal/channel"
	"github.com/unclebandit/outreach-backend/internal/circuit"
	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/db"
	"github.com/unclebandit/outreach-backend/internal/dispatch"
	"github.com/unclebandit/outreach-backend/internal/eventbus"
	"github.com/unclebandit/outreach-backend/internal/queue"
	"github.com/unclebandit/outreach-backend/internal/ratelimit"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/scheduler"
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

	if cfg.AMQPURL == "" {
		log.Fatal().Msg("AMQP_URL is required for the worker")
	}
	q, err := queue.NewAMQPQueue(cfg.AMQPURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer q.Close()

	targetRepo := &repository.TargetRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	leadRepo := &repository.LeadRepository{DB: conn}
	tenantRepo := &repository.TenantRepository{DB: conn}
	automationRepo := &repository.AutomationRepository{DB: conn}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = q.Subscribe(queue.TopicDispatch, func(body []byte) error {
		var job dispatch.Job
		if err := json.Unmarshal(body, &job); err != nil {
			log.Error().Err(err).Msg("invalid dispatch job")
			return nil
		}
		return dispatcher.Dispatch(ctx, job.TargetID)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to dispatch queue")
	}

	err = q.Subscribe(queue.TopicAutomationEvents, func(body []byte) error {
		var ev eventbus.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			log.Error().Err(err).Msg("invalid event payload")
			return nil
		}
		return engine.HandleEvent(ctx, ev)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to events queue")
	}

	err = q.Subscribe(queue.TopicAutomationActions, func(body []byte) error {
		var job automation.ActionJob
		if err := json.Unmarshal(body, &job); err != nil {
			log.Error().Err(err).Msg("invalid action job")
			return nil
		}
		if err := engine.ExecuteAction(ctx, job); err != nil {
			log.Error().Err(err).Str("action_type", job.ActionType).Msg("action failed")
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to actions queue")
	}

	go sched.Start(ctx)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := engine.RunScheduled(ctx, now.UTC()); err != nil {
					log.Error().Err(err).Msg("scheduled automation pass failed")
				}
			}
		}
	}()

	log.Info().Msg("🚀 worker running, waiting for jobs")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	cancel()
}
