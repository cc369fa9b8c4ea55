package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"WalletHub/internal/api"
	"WalletHub/internal/auth"
	"WalletHub/internal/config"
	"WalletHub/internal/conversation"
	"WalletHub/internal/events"
	"WalletHub/internal/intent"
	"WalletHub/internal/llm/openai"
	"WalletHub/internal/observability/alerting"
	"WalletHub/internal/observability/metrics"
	"WalletHub/internal/pipeline"
	"WalletHub/internal/storage/mysql"
	"WalletHub/internal/storage/redis"
	"WalletHub/internal/user"
	"WalletHub/internal/web3"
	"WalletHub/internal/web3/cache"
	"WalletHub/internal/web3/nft"
	"WalletHub/internal/web3/provider"
	"WalletHub/internal/workflow"
	"WalletHub/internal/workflow/balances"
	"WalletHub/pkg/logger"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
)

// main 是 WalletHub 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("wallethubd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 仅用于本地开发，缺失时忽略。
	_ = godotenv.Load()

	configPath, ok := os.LookupEnv("WALLETHUB_CONFIG")
	if !ok {
		configPath = filepath.Join("configs", "wallethub.yaml")
		if _, err := os.Stat(configPath); err != nil {
			configPath = ""
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Service:     "wallethubd",
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.Named("wallethubd")

	chains, err := web3.LoadChainRegistry(cfg.Web3.ChainConfig)
	if err != nil {
		return err
	}

	var redisClient *goredis.Client
	if cfg.Storage.Redis.Configured() {
		redisClient, err = redis.Open(ctx, redis.Config{
			Address:   cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	users, conversations, closeStorage, err := openStorage(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStorage()

	collector := metrics.New()

	source, closeSource, err := createDataSource(ctx, cfg, chains, redisClient)
	if err != nil {
		return err
	}
	defer closeSource()

	fallback, err := balances.ParseTokenFallback(cfg.Workflow.TokenFallback)
	if err != nil {
		return err
	}
	registry, err := workflow.NewRegistry(balances.New(source,
		balances.WithFetchTimeout(cfg.Workflow.FetchTimeout()),
		balances.WithTokenFallback(fallback),
		balances.WithChains(chains),
		balances.WithRecorder(collector),
	))
	if err != nil {
		return err
	}

	parser, err := createParser(cfg, registry, chains)
	if err != nil {
		return err
	}

	publisher, err := events.New(events.Config{
		Driver: cfg.Events.Driver,
		Redis:  events.RedisConfig{Channel: cfg.Events.Redis.Channel},
		RabbitMQ: events.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Exchange:   cfg.Events.RabbitMQ.Exchange,
			RoutingKey: cfg.Events.RabbitMQ.RoutingKey,
		},
	}, cmdable(redisClient))
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			appLog.Warn("关闭事件发布器失败", "error", err)
		}
	}()

	service := pipeline.NewService(
		parser,
		intent.NewValidator(chains, intent.WithMinConfidence(cfg.Intent.MinConfidence)),
		users,
		conversations,
		pipeline.NewExecutor(registry),
		pipeline.WithPublisher(publisher),
	)

	authService, err := auth.NewService(auth.Config{
		Mode:   auth.Mode(cfg.Auth.Mode),
		Header: cfg.Auth.Header,
		JWT: auth.JWTConfig{
			Secret:   cfg.Auth.JWT.Secret,
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
		},
	})
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if webhook := alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, 5*time.Second); webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	opts := []api.Option{
		api.WithAuth(authService),
		api.WithAlerts(alerting.NewFanout(notifiers...)),
		api.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout()),
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			opts = append(opts, api.WithMetrics(collector))
		} else {
			opts = append(opts, api.WithRequestMetrics(collector))
			go func() {
				if err := metrics.StartServer(ctx, cfg.Metrics.Address, collector.Handler()); err != nil && !errors.Is(err, context.Canceled) {
					appLog.Error("指标服务异常退出", "error", err)
				}
			}()
		}
	}

	server := api.NewServer(cfg.Server.Address, service, registry, chains, opts...)
	appLog.Info("WalletHub 已启动",
		"address", cfg.Server.Address,
		"storage", cfg.Storage.Driver,
		"llm", cfg.LLM.Provider,
		"events", cfg.Events.Driver,
		"chains", len(chains.Chains()),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStorage 根据 storage.driver 构建用户与会话存储。
func openStorage(ctx context.Context, cfg *config.Config, redisClient *goredis.Client) (user.Store, conversation.Store, func(), error) {
	noop := func() {}
	switch cfg.Storage.Driver {
	case "memory":
		return user.NewMemoryStore(cfg.Users...), conversation.NewMemoryStore(), noop, nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		users := mysql.NewUserStore(db)
		if err := users.ApplySeed(ctx, cfg.Users); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return users, mysql.NewConversationStore(db), func() { _ = db.Close() }, nil
	case "redis":
		if redisClient == nil {
			return nil, nil, nil, errors.New("redis 存储需要配置 storage.redis.address")
		}
		return user.NewMemoryStore(cfg.Users...), redis.NewConversationStore(redisClient, cfg.Storage.Redis.KeyPrefix), noop, nil
	default:
		return nil, nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// createDataSource 组装链上数据源：RPC 路由、可选的 NFT 索引与 Redis 缓存。
func createDataSource(ctx context.Context, cfg *config.Config, chains *web3.ChainRegistry, redisClient *goredis.Client) (web3.DataSource, func(), error) {
	opts := provider.Options{
		ApprovalLookback: cfg.Web3.ApprovalLookbackBlocks,
		Retries:          cfg.Web3.RPCRetries,
	}
	if cfg.Web3.NFT.BaseURL != "" {
		indexer, err := nft.NewClient(nft.Config{
			BaseURL:  cfg.Web3.NFT.BaseURL,
			APIKey:   cfg.Web3.NFT.APIKey,
			Timeout:  time.Duration(cfg.Web3.NFT.TimeoutSeconds) * time.Second,
			PageSize: cfg.Web3.NFT.PageSize,
			MaxPages: cfg.Web3.NFT.MaxPages,
		}, chains)
		if err != nil {
			return nil, nil, err
		}
		opts.NFT = indexer
	}

	router, err := provider.NewRouter(ctx, chains, opts)
	if err != nil {
		return nil, nil, err
	}

	var source web3.DataSource = router
	if cfg.Cache.Enabled && redisClient != nil {
		source = cache.New(router, redisClient, cache.Options{
			Prefix:     cfg.Storage.Redis.KeyPrefix,
			BalanceTTL: time.Duration(cfg.Cache.BalanceTTLSeconds) * time.Second,
			NFTTTL:     time.Duration(cfg.Cache.NFTTTLSeconds) * time.Second,
		})
	}
	return source, router.Close, nil
}

// createParser 选择意图解析器。openai 模式下大模型未识别时回退到规则解析。
func createParser(cfg *config.Config, registry *workflow.Registry, chains *web3.ChainRegistry) (intent.Parser, error) {
	rules := intent.NewRuleParser(chains)
	switch cfg.LLM.Provider {
	case "rules":
		return rules, nil
	case "openai":
		apiKey := cfg.LLM.OpenAI.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return intent.NewFallbackParser(intent.NewLLMParser(client, registry.Hints, chains), rules), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// cmdable 避免把 nil *goredis.Client 包装成非 nil 接口。
func cmdable(client *goredis.Client) goredis.Cmdable {
	if client == nil {
		return nil
	}
	return client
}
