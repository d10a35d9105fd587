package authcore

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/velmora/authcore/events"
	"github.com/velmora/authcore/internal/limiters"
	"github.com/velmora/authcore/internal/stores"
	"github.com/velmora/authcore/password"
	"github.com/velmora/authcore/provider"
	"github.com/velmora/authcore/store"
	"github.com/velmora/authcore/token"
)

// Builder assembles an Engine. Redis, the durable store, and token secrets
// are required; everything else has defaults.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *store.DB

	provider  provider.Provider
	eventSink events.Sink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero-valued sections keep
// their defaults only if set before this call; prefer starting from New().
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithTokenSecrets sets the two HMAC signing secrets.
func (b *Builder) WithTokenSecrets(access, refresh []byte) *Builder {
	b.config.Token.AccessSecret = access
	b.config.Token.RefreshSecret = refresh
	return b
}

// WithRedis sets the client backing the ephemeral stores and limiters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the durable store for users, accounts, and sessions.
func (b *Builder) WithStore(db *store.DB) *Builder {
	b.db = db
	return b
}

// WithProvider sets the OAuth provider. Without one the OAuth flows return
// ErrEngineNotReady.
func (b *Builder) WithProvider(p provider.Provider) *Builder {
	b.provider = p
	return b
}

// WithEventSink sets where notification events go. Defaults to a no-op sink.
func (b *Builder) WithEventSink(sink events.Sink) *Builder {
	b.eventSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.db == nil {
		return nil, errors.New("store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(cfg.Token)
	if err != nil {
		return nil, err
	}

	credentialHash, err := password.NewHasher(password.CredentialConfig())
	if err != nil {
		return nil, err
	}
	refreshHash, err := password.NewHasher(password.TokenConfig())
	if err != nil {
		return nil, err
	}

	sink := b.eventSink
	if sink == nil {
		sink = events.NoOpSink{}
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:         cfg,
		tokens:         tokens,
		db:             b.db,
		credentialHash: credentialHash,
		refreshHash:    refreshHash,
		otpStore:       stores.NewOTPStore(b.redis, cfg.OTP.storeConfig()),
		blockStore:     stores.NewBlockStore(b.redis),
		stateStore:     stores.NewOAuthStateStore(b.redis, cfg.OAuthState.Prefix),
		onboarding:     stores.NewOnboardingStore(b.redis, cfg.OTP.OnboardingTTL),
		resend:         limiters.NewResendLimiter(b.redis, cfg.Resend),
		provider:       b.provider,
		dispatcher:     events.NewDispatcher(cfg.Events, sink),
		logger:         logger,
	}

	b.built = true

	return engine, nil
}
