package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"DefiFlow/internal/api"
	"DefiFlow/internal/command"
	"DefiFlow/internal/config"
	"DefiFlow/internal/engine"
	"DefiFlow/internal/events"
	"DefiFlow/internal/observability/metrics"
	"DefiFlow/internal/pricefeed"
	"DefiFlow/internal/quote"
	"DefiFlow/internal/resolver"
	"DefiFlow/internal/web3"
	"DefiFlow/internal/web3/ethereum"
	"DefiFlow/internal/web3/provider"
	"DefiFlow/pkg/logger"
)

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Logger()); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("defiflowd")

	networks, err := web3.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return err
	}
	swapNet, ok := networks.Lookup(cfg.Swap.Network)
	if !ok {
		return fmt.Errorf("网络配置中缺少兑换网络 %s", cfg.Swap.Network)
	}
	settleNet, ok := networks.Lookup(cfg.Settlement.Network)
	if !ok {
		return fmt.Errorf("网络配置中缺少结算网络 %s", cfg.Settlement.Network)
	}

	chains, err := provider.NewRegistry(ctx, networks, nil)
	if err != nil {
		return err
	}
	defer chains.Close()

	stats := metrics.Default()

	var shared redis.UniversalClient
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("连接 Redis 失败: %w", err)
		}
		defer client.Close()
		shared = client
	}

	pair := quote.Pair{
		TokenIn:          optionalAddress(cfg.Swap.TokenIn),
		TokenOut:         common.HexToAddress(cfg.Swap.TokenOut),
		TokenInDecimals:  cfg.Swap.TokenInDecimals,
		TokenOutDecimals: cfg.Swap.TokenOutDecimals,
		Fee:              cfg.Swap.Fee,
		TickSpacing:      cfg.Swap.TickSpacing,
		Hooks:            optionalAddress(cfg.Swap.Hooks),
	}
	quotes, err := newQuoteEngine(cfg, chains, pair, stats)
	if err != nil {
		return err
	}

	names, closeNames, err := resolver.DialRelay(ctx, cfg.Resolver.RelayURL, optionalAddress(cfg.Resolver.Registry))
	if err != nil {
		return fmt.Errorf("连接名称解析中继失败: %w", err)
	}
	defer closeNames()
	cache, err := newNameCache(cfg, shared)
	if err != nil {
		return err
	}
	recipients := resolver.New(names, resolver.WithCache(cache), resolver.WithObserver(stats))

	wallet, err := newWallet(cfg, pair)
	if err != nil {
		return err
	}
	defer wallet.Close()

	bus := events.NewBus()
	sinks, err := newSinks(cfg, shared, bus)
	if err != nil {
		return err
	}
	fanout := events.NewFanout(sinks...)
	defer fanout.Close()

	eng, err := engine.New(engine.Config{
		SwapNetwork:        swapNet,
		SettlementNetwork:  settleNet,
		Pair:               pair,
		SwapRouter:         common.HexToAddress(cfg.Swap.Router),
		Settlement:         common.HexToAddress(cfg.Settlement.Contract),
		SettlementToken:    common.HexToAddress(cfg.Settlement.Token),
		SettlementDecimals: cfg.Settlement.Decimals,
		Instrument:         cfg.PriceFeed.Instrument,
		AmountTolerance:    cfg.AmountTolerance(),
	}, wallet,
		engine.WithResolver(recipients),
		engine.WithQuoter(quotes),
		engine.WithPublisher(fanout),
		engine.WithObserver(stats),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	queue, err := newCommandQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭命令队列失败", slog.Any("error", err))
		}
	}()
	tracker := command.NewTracker(256)
	processor := command.NewProcessor(eng, queue, command.WithTracker(tracker), command.WithObserver(stats))

	relay, err := api.NewRelay(api.RelayConfig{
		Upstream:       cfg.Relay.Upstream,
		APIKey:         cfg.Relay.APIKey,
		AllowedMethods: cfg.Relay.AllowedMethods,
		RatePerSecond:  cfg.Relay.RatePerSecond,
		Burst:          cfg.Relay.Burst,
	})
	if err != nil {
		return err
	}

	feed := pricefeed.NewClient(cfg.PriceFeed.URL,
		pricefeed.WithBackoff(cfg.PriceFeed.MinBackoff.Std(), cfg.PriceFeed.MaxBackoff.Std()))
	hub := pricefeed.NewHub()
	ticks, unsubscribe := hub.Subscribe(1)
	defer unsubscribe()

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Commands:        command.NewService(queue, tracker),
		State:           eng,
		Events:          bus,
		Quotes:          quotes,
		Resolver:        recipients,
		Prices:          feed,
		Relay:           relay,
		Metrics:         stats,
		ExposeMetrics:   cfg.Metrics.Address == "",
		AmountTolerance: cfg.AmountTolerance(),
		CommandTimeout:  cfg.Server.CommandTimeout.Std(),
		QuoteDebounce:   cfg.Quote.Debounce.Std(),
		ResolveDebounce: cfg.Resolver.Debounce.Std(),
	})

	log.Info("DefiFlow 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("swap_network", swapNet.Name),
		slog.String("settlement_network", settleNet.Name),
		slog.String("command_driver", cfg.Commands.Driver))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error {
		return feed.Run(gctx, func(t pricefeed.Tick) {
			stats.ObserveTick(t.Price.InexactFloat64())
			hub.Publish(t)
		})
	})
	g.Go(func() error { return eng.Watch(gctx, ticks) })
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address) })
	}

	err = g.Wait()
	eng.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("DefiFlow 已停止")
		return nil
	}
	return err
}

func optionalAddress(raw string) common.Address {
	if raw == "" {
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func newQuoteEngine(cfg *config.Config, chains *provider.Registry, pair quote.Pair, stats *metrics.Collector) (*quote.Engine, error) {
	opts := []quote.Option{quote.WithReferenceRate(cfg.ReferenceRate()), quote.WithObserver(stats)}
	if cfg.Swap.Quoter == "" {
		logger.Named("defiflowd").Warn("未配置报价合约，报价只能使用参考汇率估算")
		return quote.NewEngine(nil, opts...), nil
	}
	caller, err := chains.Client(cfg.Swap.Network)
	if err != nil {
		return nil, err
	}
	oracle, err := quote.NewV4Quoter(caller, common.HexToAddress(cfg.Swap.Quoter), pair)
	if err != nil {
		return nil, err
	}
	return quote.NewEngine(oracle, opts...), nil
}

func newNameCache(cfg *config.Config, shared redis.UniversalClient) (resolver.Cache, error) {
	if cfg.Resolver.Cache == "redis" {
		return resolver.NewRedisCache(shared, "", cfg.Resolver.CacheTTL.Std())
	}
	return resolver.NewMemoryCache(), nil
}

func newWallet(cfg *config.Config, pair quote.Pair) (*ethereum.Wallet, error) {
	if cfg.Signer.PrivateKey == "" {
		return nil, errors.New("未配置签名私钥，请设置 DEFIFLOW_SIGNER_KEY")
	}
	opts := []ethereum.WalletOption{
		ethereum.WithPollInterval(cfg.Signer.PollInterval.Std()),
		ethereum.WithMaxPollErrors(cfg.Signer.MaxPollErrors),
	}
	if cfg.Signer.RestrictTargets {
		targets := []common.Address{
			common.HexToAddress(cfg.Swap.Router),
			pair.TokenOut,
			common.HexToAddress(cfg.Settlement.Contract),
		}
		if pair.TokenIn != (common.Address{}) {
			targets = append(targets, pair.TokenIn)
		}
		opts = append(opts, ethereum.WithApprover(ethereum.AllowList(targets...)))
	}
	return ethereum.NewWalletFromHex(cfg.Signer.PrivateKey, opts...)
}

func newSinks(cfg *config.Config, shared redis.UniversalClient, bus *events.Bus) ([]events.Sink, error) {
	sinks := []events.Sink{bus}
	if cfg.Events.RedisStream.Enabled {
		stream, err := events.NewRedisStream(shared, cfg.Events.RedisStream.Stream, cfg.Events.RedisStream.MaxLen)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, stream)
	}
	if cfg.Events.AMQP.Enabled {
		publisher, err := events.NewAMQPPublisher(events.AMQPConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.Events.AMQP.Exchange,
			Durable:  true,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publisher)
	}
	return sinks, nil
}

func newCommandQueue(ctx context.Context, cfg *config.Config) (command.Queue, error) {
	switch cfg.Commands.Driver {
	case "redis":
		return command.NewRedisQueue(ctx, command.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Commands.Queue,
		})
	case "rabbitmq":
		return command.NewRabbitMQQueue(command.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.Commands.Queue,
			Durable: true,
		})
	default:
		return command.NewMemoryQueue(cfg.Commands.Size), nil
	}
}
