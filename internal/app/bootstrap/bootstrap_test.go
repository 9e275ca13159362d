package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sophie-assistant/internal/calendar"
	appconfig "github.com/wolfman30/sophie-assistant/internal/config"
	"github.com/wolfman30/sophie-assistant/internal/conversation"
	"github.com/wolfman30/sophie-assistant/internal/llm"
	"github.com/wolfman30/sophie-assistant/internal/notify"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		DefaultTimezone:     "Europe/Paris",
		LLMProvider:         "none",
		CalendarProvider:    "memory",
		WorkerCount:         1,
		FirstVisitDelayDays: 2,
		SlotDurationMinutes: 30,
		MaxSuggestedSlots:   6,
		SlotSearchDays:      14,
		DecisionMemorySize:  20,
	}
}

func TestBuildConversationRuntimeInMemory(t *testing.T) {
	rt, err := BuildConversationRuntime(context.Background(), memoryConfig(), aws.Config{}, prometheus.NewRegistry(), logging.Discard())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Redis)
	assert.Nil(t, rt.Postgres)
	assert.Nil(t, rt.ClinicStore)
	assert.Empty(t, rt.Readiness())
	assert.IsType(t, &conversation.MemoryStore{}, rt.Store)

	result, err := rt.Engine.HandleInbound(context.Background(), conversation.InboundMessage{
		ClinicID:  "clinic-1",
		ChannelID: "+33612345678",
		Text:      "Bonjour",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "Sophie")
	assert.NotEmpty(t, result.ConversationID)
}

func TestBuildConversationRuntimeWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	rt, err := BuildConversationRuntime(context.Background(), cfg, aws.Config{}, prometheus.NewRegistry(), logging.Discard())
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Redis)
	require.NotNil(t, rt.ClinicStore)
	checks := rt.Readiness()
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))

	profile, err := rt.ClinicStore.Get(context.Background(), "clinic-9")
	require.NoError(t, err)
	assert.Equal(t, "clinic-9", profile.ID)
}

func TestBuildConversationRuntimeErrors(t *testing.T) {
	_, err := BuildConversationRuntime(context.Background(), nil, aws.Config{}, prometheus.NewRegistry(), logging.Discard())
	assert.Error(t, err)

	cfg := memoryConfig()
	cfg.CalendarProvider = "outlook"
	_, err = BuildConversationRuntime(context.Background(), cfg, aws.Config{}, prometheus.NewRegistry(), logging.Discard())
	assert.ErrorContains(t, err, "unknown calendar provider")

	cfg = memoryConfig()
	cfg.LLMProvider = "mistral"
	_, err = BuildConversationRuntime(context.Background(), cfg, aws.Config{}, prometheus.NewRegistry(), logging.Discard())
	assert.ErrorContains(t, err, "unknown llm provider")
}

func TestBuildLLMClient(t *testing.T) {
	ctx := context.Background()

	client, closeFn, err := BuildLLMClient(ctx, memoryConfig(), aws.Config{}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, client)
	closeFn()

	cfg := memoryConfig()
	cfg.LLMProvider = "gemini"
	client, closeFn, err = BuildLLMClient(ctx, cfg, aws.Config{}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, client, "gemini without an api key stays deterministic")
	closeFn()

	cfg.LLMProvider = "bedrock"
	cfg.BedrockModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	client, closeFn, err = BuildLLMClient(ctx, cfg, aws.Config{Region: "eu-west-3"}, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, client)
	closeFn()
}

func TestPrimaryModelFollowsProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.BedrockModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	cfg.GeminiModel = "gemini-2.0-flash"

	cfg.LLMProvider = "gemini"
	assert.Equal(t, "gemini-2.0-flash", PrimaryModel(cfg))
	cfg.LLMProvider = "bedrock"
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", PrimaryModel(cfg))
	assert.Empty(t, PrimaryModel(nil))
}

type modelRecorder struct{ model string }

func (r *modelRecorder) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	r.model = req.Model
	return llm.Response{Text: "ok"}, nil
}

func TestPinModelOverridesRequestModel(t *testing.T) {
	rec := &modelRecorder{}
	client := pinModel(rec, "anthropic.claude-3-haiku-20240307-v1:0")

	_, err := client.Complete(context.Background(), llm.Request{Model: "gemini-2.0-flash"})

	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", rec.model)
}

func TestBuildCalendar(t *testing.T) {
	cal, err := BuildCalendar(context.Background(), memoryConfig(), logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &calendar.MemoryProvider{}, cal)
}

func TestBuildEmailSender(t *testing.T) {
	cfg := memoryConfig()

	cfg.EmailProvider = "sendgrid"
	assert.IsType(t, &notify.StubEmailSender{}, BuildEmailSender(cfg, aws.Config{}, logging.Discard()))

	cfg.EmailProvider = "ses"
	assert.IsType(t, &notify.StubEmailSender{}, BuildEmailSender(cfg, aws.Config{}, logging.Discard()))

	cfg.SESFromEmail = "rdv@cabinet.example"
	assert.IsType(t, &notify.SESSender{}, BuildEmailSender(cfg, aws.Config{Region: "eu-west-3"}, logging.Discard()))

	cfg.EmailProvider = "sendgrid"
	cfg.SendGridAPIKey = "SG.test"
	assert.IsType(t, &notify.SendGridSender{}, BuildEmailSender(cfg, aws.Config{}, logging.Discard()))
}

type echoTurns struct{}

func (echoTurns) HandleInbound(ctx context.Context, msg conversation.InboundMessage) (conversation.TurnResult, error) {
	return conversation.TurnResult{Reply: msg.Text}, nil
}

func TestBuildPipeline(t *testing.T) {
	cfg := memoryConfig()

	p, err := BuildPipeline(cfg, aws.Config{}, echoTurns{}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, p, "no queue configured means synchronous turns")

	_, err = BuildPipeline(cfg, aws.Config{}, nil, logging.Discard())
	assert.Error(t, err)

	cfg.UseMemoryQueue = true
	p, err = BuildPipeline(cfg, aws.Config{}, echoTurns{}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.InProcess)

	id, err := p.Publisher.Enqueue(context.Background(), conversation.InboundMessage{ClinicID: "clinic-1", ChannelID: "+33612345678", Text: "Bonjour"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	RunWorker(ctx, p)
	p.Close()

	cfg.UseMemoryQueue = false
	cfg.ConversationQueueURL = "http://localhost:4566/000000000000/inbound"
	p, err = BuildPipeline(cfg, aws.Config{Region: "eu-west-3"}, echoTurns{}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.InProcess)
}
