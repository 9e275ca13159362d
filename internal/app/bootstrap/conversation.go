package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/sophie-assistant/internal/calendar"
	"github.com/wolfman30/sophie-assistant/internal/clinic"
	"github.com/wolfman30/sophie-assistant/internal/compliance"
	appconfig "github.com/wolfman30/sophie-assistant/internal/config"
	"github.com/wolfman30/sophie-assistant/internal/conversation"
	"github.com/wolfman30/sophie-assistant/internal/llm"
	"github.com/wolfman30/sophie-assistant/internal/lock"
	"github.com/wolfman30/sophie-assistant/internal/nlu"
	"github.com/wolfman30/sophie-assistant/internal/notify"
	"github.com/wolfman30/sophie-assistant/internal/observability/metrics"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// Runtime is the wired dialogue engine and the resources behind it.
type Runtime struct {
	Engine      *conversation.Engine
	Store       conversation.Store
	ClinicStore *clinic.Store
	Redis       *redis.Client
	Postgres    *pgxpool.Pool

	closers []func()
}

// Close releases every resource the runtime opened, in reverse order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Readiness returns the dependency checks for the /ready endpoint.
func (r *Runtime) Readiness() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if r.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return r.Redis.Ping(ctx).Err() }
	}
	if r.Postgres != nil {
		checks["postgres"] = r.Postgres.Ping
	}
	return checks
}

// BuildConversationRuntime wires storage, locking, calendar, language model
// and notification services into a dialogue engine.
func BuildConversationRuntime(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	pool, err := BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if pool != nil {
		rt.Postgres = pool
		rt.closers = append(rt.closers, pool.Close)
		rt.Store = conversation.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set; conversations are kept in memory")
		rt.Store = conversation.NewMemoryStore()
	}

	dialogueMetrics := metrics.NewDialogueMetrics(reg)
	llm.RegisterMetrics(reg)

	opts := []conversation.EngineOption{
		conversation.WithLogger(logger),
		conversation.WithMetrics(dialogueMetrics),
		conversation.WithEngineConfig(conversation.EngineConfig{
			InactivityWindow:    cfg.InactivityWindow,
			FirstVisitDelayDays: cfg.FirstVisitDelayDays,
			SlotMinutes:         cfg.SlotDurationMinutes,
			MaxSlots:            cfg.MaxSuggestedSlots,
			SearchDays:          cfg.SlotSearchDays,
		}),
	}

	var clinics conversation.ClinicDirectory = defaultClinics{timezone: cfg.DefaultTimezone}
	if redisClient := BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		rt.Redis = redisClient
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
		rt.ClinicStore = BuildClinicStore(redisClient)
		clinics = rt.ClinicStore
		opts = append(opts,
			conversation.WithLocker(lock.NewRedisLocker(redisClient, cfg.TurnLockTTL, cfg.TurnLockWait)),
			conversation.WithDecisionMemory(conversation.NewRedisDecisionMemory(redisClient, cfg.DecisionMemorySize, cfg.DecisionMemoryTTL)),
		)
	} else {
		logger.Warn("redis unavailable; using in-process locks, decision memory and default clinic profiles")
		opts = append(opts, conversation.WithDecisionMemory(conversation.NewMemoryDecisionMemory(cfg.DecisionMemorySize, cfg.DecisionMemoryTTL)))
	}

	client, closeLLM, err := BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		return fail(err)
	}
	rt.closers = append(rt.closers, closeLLM)
	if client != nil {
		var responderOpts []conversation.ResponderOption
		if rt.Postgres != nil {
			responderOpts = append(responderOpts, conversation.WithReplyAuditor(compliance.NewAuditService(rt.Postgres)))
		}
		model := PrimaryModel(cfg)
		opts = append(opts,
			conversation.WithExtractor(nlu.NewLLMExtractor(client, model, logger)),
			conversation.WithResponder(conversation.NewResponder(client, model, cfg.MaxRegenerateAttempts, logger, dialogueMetrics, responderOpts...)),
		)
	}

	cal, err := BuildCalendar(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	opts = append(opts, conversation.WithBookingNotifier(notify.NewService(BuildEmailSender(cfg, awsCfg, logger), logger)))

	rt.Engine = conversation.NewEngine(rt.Store, clinics, cal, opts...)
	return rt, nil
}

// BuildCalendar returns the Google Calendar provider, or an in-memory
// calendar when CALENDAR_PROVIDER=memory.
func BuildCalendar(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (calendar.Provider, error) {
	switch cfg.CalendarProvider {
	case "memory":
		logger.Warn("using in-memory calendar; bookings are not synced to practitioners")
		return calendar.NewMemoryProvider(), nil
	case "", "google":
		provider, err := calendar.NewGoogleProvider(ctx, cfg.GoogleCalendarCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: calendar: %w", err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown calendar provider %q", cfg.CalendarProvider)
	}
}

// BuildEmailSender picks SES, SendGrid or the logging stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		if cfg.SESFromEmail != "" {
			return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
				FromEmail:        cfg.SESFromEmail,
				FromName:         cfg.SESFromName,
				ConfigurationSet: cfg.SESConfigurationSet,
			}, logger)
		}
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	logger.Warn("email delivery not configured; booking confirmations are only logged", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger)
}
