package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gtrader/internal/advisor"
	"gtrader/internal/analysis"
	"gtrader/internal/cache"
	"gtrader/internal/config"
	"gtrader/internal/engine"
	"gtrader/internal/exchange/bybit/rest"
	"gtrader/internal/exchange/bybit/ws"
	"gtrader/internal/logger"
	"gtrader/internal/marketdata"
	"gtrader/internal/metrics"
	"gtrader/internal/models"
	"gtrader/internal/notify"
	"gtrader/internal/risk"
	"gtrader/internal/server"
	"gtrader/internal/sizing"
	"gtrader/internal/tracing"
	"gtrader/internal/trading"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Некорректная конфигурация.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать трассировку.")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	m := metrics.New()

	recvWindow, _ := strconv.Atoi(cfg.Exchange.RecvWindow)
	client := rest.New(rest.Options{
		BaseURL:     cfg.Exchange.BaseUrl,
		ApiKey:      cfg.Exchange.ApiKey,
		Secret:      cfg.Exchange.Secret,
		Category:    cfg.Exchange.Category,
		AccountType: cfg.Exchange.AccountType,
		RecvWindow:  recvWindow,
	}, log)

	var store engine.ParamsStore
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedis(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.WithError(err).Warn("Redis недоступен, параметры инструментов кэшируются только в памяти.")
		} else {
			defer redisStore.Close()
			store = redisStore
		}
	}

	eng := engine.New(client, engine.NewParamsCache(client, store, log), engine.Config{
		QuoteCoin:      cfg.Exchange.QuoteCoin,
		TakeProfitPct:  cfg.Bot.TakeProfitPct,
		StopLossPct:    cfg.Bot.StopLossPct,
		MaxAttempts:    cfg.Execution.MaxAttempts,
		BaseBackoff:    cfg.Execution.BaseBackoff,
		MaxBackoff:     cfg.Execution.MaxBackoff,
		AttemptTimeout: cfg.Execution.AttemptTimeout,
		FillTimeout:    cfg.Execution.FillTimeout,
	}, log, m)

	symbols := make([]string, 0, len(cfg.Bot.Assets))
	for _, coin := range cfg.Bot.Assets {
		symbols = append(symbols, cfg.Symbol(coin))
	}
	stream := ws.New(cfg.Exchange.WSPublicURL, log)
	provider := marketdata.New(client, marketdata.Options{QuoteCoin: cfg.Exchange.QuoteCoin}, log)
	go func() {
		if err := stream.Run(ctx, symbols); err != nil {
			log.WithError(err).Error("Поток тикеров завершился с ошибкой.")
		}
	}()
	go provider.Consume(ctx, stream.Tickers())

	var decider trading.Decider
	if cfg.AI.ApiKey != "" {
		decider = advisor.NewOpenAI(advisor.Config{
			ApiKey:      cfg.AI.ApiKey,
			BaseURL:     cfg.AI.BaseUrl,
			Model:       cfg.AI.Model,
			Timeout:     cfg.AI.Timeout,
			Temperature: 0.2,
		}, log)
	} else {
		log.Warn("ai.api_key не задан, бот будет только наблюдать за рынком.")
	}

	alerts, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		log.WithError(err).Warn("Telegram недоступен, уведомления только в лог.")
		alerts = notify.New(nil, 0, log)
	}

	gate, err := risk.NewGate(risk.Limits{
		MaxDailyTrades:       cfg.Bot.MaxDailyTrades,
		MaxConsecutiveLosses: cfg.Bot.MaxConsecutiveLosses,
	}, nil)
	if err != nil {
		log.WithError(err).Fatal("Некорректные лимиты риска.")
	}

	sizer, err := sizing.NewSizer(sizing.Policy{
		MaxRiskPerTrade:  cfg.Bot.MaxRiskPerTradePct / 100,
		MinPositionValue: cfg.Bot.MinPositionValue,
		MaxPositionValue: cfg.Bot.MaxPositionValue,
		Multipliers: map[models.Conviction]float64{
			models.ConvictionHigh:   cfg.Bot.ConvictionMultipliers["HIGH"],
			models.ConvictionMedium: cfg.Bot.ConvictionMultipliers["MEDIUM"],
			models.ConvictionLow:    cfg.Bot.ConvictionMultipliers["LOW"],
		},
	})
	if err != nil {
		log.WithError(err).Fatal("Некорректные параметры размера позиции.")
	}

	loop, err := trading.New(trading.Config{
		Assets:              cfg.Bot.Assets,
		Interval:            cfg.Bot.Interval,
		Lookback:            cfg.Bot.Lookback,
		CycleInterval:       cfg.Bot.CycleInterval,
		MaxConcurrentTrades: cfg.Bot.MaxConcurrentTrades,
		MaxExposure:         cfg.Bot.MaxExposurePct / 100,
		PhaseTimeout:        cfg.Execution.PhaseTimeout,
		PnLGraceCycles:      cfg.Bot.PnLGraceCycles,
	}, trading.Deps{
		Market:   provider,
		Decider:  decider,
		Account:  client,
		Executor: eng,
		Analyzer: analysis.NewAnalyzer(analysis.DefaultConfig()),
		Gate:     gate,
		Sizer:    sizer,
		Alerts:   alerts,
		Metrics:  m,
		Tracer:   tracer,
		Log:      log,
	})
	if err != nil {
		log.WithError(err).Fatal("Не удалось собрать торговый цикл.")
	}

	srv := server.New(server.Options{
		Addr:        cfg.Telemetry.HTTPAddr,
		ServiceName: cfg.Telemetry.ServiceName,
		StaleAfter:  3 * cfg.Bot.CycleInterval,
	}, loop, m, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Error("HTTP сервер завершился с ошибкой.")
		}
	}()

	log.Info("Бот запущен.")

	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()

	select {
	case <-sigCh:
		log.Info("Получен сигнал остановки, ждём завершения цикла.")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.WithError(err).Error("Торговый цикл остановлен с ошибкой.")
		}
		cancel()
	}

	stream.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP сервер остановлен принудительно.")
	}

	log.Info("Бот остановлен.")
}
