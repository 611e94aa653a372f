package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Exchange  ExchangeConfig
	Bot       BotConfig
	Execution ExecutionConfig
	AI        AIConfig
	Redis     RedisConfig
	Telegram  TelegramConfig
	Telemetry TelemetryConfig
	Runtime   RuntimeConfig
}

type ExchangeConfig struct {
	BaseUrl     string
	WSPublicURL string
	ApiKey      string
	Secret      string
	Category    string
	AccountType string
	QuoteCoin   string
	RecvWindow  string
}

type BotConfig struct {
	Assets                []string
	Interval              string
	Lookback              int
	CycleInterval         time.Duration
	MaxRiskPerTradePct    float64
	MinPositionValue      float64
	MaxPositionValue      float64
	MaxExposurePct        float64
	TakeProfitPct         float64
	StopLossPct           float64
	MaxConcurrentTrades   int
	MaxDailyTrades        int
	MaxConsecutiveLosses  int
	PnLGraceCycles        int
	ConvictionMultipliers map[string]float64
}

type ExecutionConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	FillTimeout    time.Duration
	PhaseTimeout   time.Duration
}

type AIConfig struct {
	ApiKey  string
	BaseUrl string
	Model   string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

type TelemetryConfig struct {
	HTTPAddr     string
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
}

type RuntimeConfig struct {
	Log LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom("configs")
}

func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Не удалось прочитать конфигурацию: %w", err)
		}
	}

	cfg := &Config{}

	cfg.Exchange = ExchangeConfig{
		BaseUrl:     v.GetString("exchange.base_url"),
		WSPublicURL: v.GetString("exchange.ws_public_url"),
		ApiKey:      envSub(v, "exchange.api_key"),
		Secret:      envSub(v, "exchange.secret"),
		Category:    v.GetString("exchange.category"),
		AccountType: strings.ToUpper(v.GetString("exchange.account_type")),
		QuoteCoin:   strings.ToUpper(v.GetString("exchange.quote_coin")),
		RecvWindow:  v.GetString("exchange.recv_window"),
	}

	cfg.Bot = BotConfig{
		Assets:                parseAssets(v.GetStringSlice("bot.assets")),
		Interval:              v.GetString("bot.interval"),
		Lookback:              v.GetInt("bot.lookback"),
		CycleInterval:         v.GetDuration("bot.cycle_interval"),
		MaxRiskPerTradePct:    v.GetFloat64("bot.max_risk_per_trade_pct"),
		MinPositionValue:      v.GetFloat64("bot.min_position_value"),
		MaxPositionValue:      v.GetFloat64("bot.max_position_value"),
		MaxExposurePct:        v.GetFloat64("bot.max_exposure_pct"),
		TakeProfitPct:         v.GetFloat64("bot.take_profit_pct"),
		StopLossPct:           v.GetFloat64("bot.stop_loss_pct"),
		MaxConcurrentTrades:   v.GetInt("bot.max_concurrent_trades"),
		MaxDailyTrades:        v.GetInt("bot.max_daily_trades"),
		MaxConsecutiveLosses:  v.GetInt("bot.max_consecutive_losses"),
		PnLGraceCycles:        v.GetInt("bot.pnl_grace_cycles"),
		ConvictionMultipliers: readMultipliers(v),
	}
	if cfg.Bot.CycleInterval <= 0 {
		cfg.Bot.CycleInterval = intervalDuration(cfg.Bot.Interval)
	}

	cfg.Execution = ExecutionConfig{
		MaxAttempts:    v.GetInt("execution.max_attempts"),
		BaseBackoff:    v.GetDuration("execution.base_backoff"),
		MaxBackoff:     v.GetDuration("execution.max_backoff"),
		AttemptTimeout: v.GetDuration("execution.attempt_timeout"),
		FillTimeout:    v.GetDuration("execution.fill_timeout"),
		PhaseTimeout:   v.GetDuration("execution.phase_timeout"),
	}

	cfg.AI = AIConfig{
		ApiKey:  envSub(v, "ai.api_key"),
		BaseUrl: v.GetString("ai.base_url"),
		Model:   v.GetString("ai.model"),
		Timeout: v.GetDuration("ai.timeout"),
	}

	cfg.Redis = RedisConfig{
		Addr:     envSub(v, "redis.addr"),
		Password: envSub(v, "redis.password"),
		DB:       v.GetInt("redis.db"),
		TTL:      v.GetDuration("redis.ttl"),
	}

	cfg.Telegram = TelegramConfig{
		Token:  envSub(v, "telegram.token"),
		ChatID: v.GetInt64("telegram.chat_id"),
	}

	cfg.Telemetry = TelemetryConfig{
		HTTPAddr:     v.GetString("telemetry.http_addr"),
		OTLPEndpoint: envSub(v, "telemetry.otlp_endpoint"),
		OTLPInsecure: v.GetBool("telemetry.otlp_insecure"),
		ServiceName:  v.GetString("telemetry.service_name"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.base_url", "https://api.bybit.com")
	v.SetDefault("exchange.ws_public_url", "wss://stream.bybit.com/v5/public/linear")
	v.SetDefault("exchange.api_key", "${BYBIT_API_KEY}")
	v.SetDefault("exchange.secret", "${BYBIT_API_SECRET}")
	v.SetDefault("exchange.category", "linear")
	v.SetDefault("exchange.account_type", "UNIFIED")
	v.SetDefault("exchange.quote_coin", "USDT")
	v.SetDefault("exchange.recv_window", "5000")

	v.SetDefault("bot.assets", []string{"BTC", "ETH", "SOL", "XRP", "DOGE", "BNB"})
	v.SetDefault("bot.interval", "15m")
	v.SetDefault("bot.lookback", 100)
	v.SetDefault("bot.max_risk_per_trade_pct", 3.0)
	v.SetDefault("bot.min_position_value", 50.0)
	v.SetDefault("bot.max_position_value", 300.0)
	v.SetDefault("bot.max_exposure_pct", 100.0)
	v.SetDefault("bot.take_profit_pct", 3.0)
	v.SetDefault("bot.stop_loss_pct", 1.5)
	v.SetDefault("bot.max_concurrent_trades", 4)
	v.SetDefault("bot.max_daily_trades", 10)
	v.SetDefault("bot.max_consecutive_losses", 3)
	v.SetDefault("bot.pnl_grace_cycles", 3)
	v.SetDefault("bot.conviction_multipliers.high", 1.0)
	v.SetDefault("bot.conviction_multipliers.medium", 0.66)
	v.SetDefault("bot.conviction_multipliers.low", 0.33)

	v.SetDefault("execution.max_attempts", 4)
	v.SetDefault("execution.base_backoff", time.Second)
	v.SetDefault("execution.max_backoff", 30*time.Second)
	v.SetDefault("execution.attempt_timeout", 10*time.Second)
	v.SetDefault("execution.fill_timeout", 20*time.Second)
	v.SetDefault("execution.phase_timeout", 3*time.Minute)

	v.SetDefault("ai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", 45*time.Second)

	v.SetDefault("redis.addr", "${REDIS_ADDR}")
	v.SetDefault("redis.ttl", 6*time.Hour)

	v.SetDefault("telegram.token", "${TELEGRAM_BOT_TOKEN}")

	v.SetDefault("telemetry.http_addr", ":9102")
	v.SetDefault("telemetry.otlp_endpoint", "${OTEL_EXPORTER_OTLP_ENDPOINT}")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "gtrader")

	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.file", "stdout")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 14)
}

// Validate reports configuration the bot cannot run without. These errors are fatal.
func (c *Config) Validate() error {
	var errs []error
	if c.Exchange.ApiKey == "" || c.Exchange.Secret == "" {
		errs = append(errs, errors.New("exchange.api_key / exchange.secret не заданы"))
	}
	if c.Exchange.BaseUrl == "" {
		errs = append(errs, errors.New("exchange.base_url не задан"))
	}
	if len(c.Bot.Assets) == 0 {
		errs = append(errs, errors.New("bot.assets пуст"))
	}
	if intervalDuration(c.Bot.Interval) == 0 {
		errs = append(errs, fmt.Errorf("bot.interval не поддерживается: %q", c.Bot.Interval))
	}
	if c.Bot.MaxRiskPerTradePct <= 0 || c.Bot.MaxRiskPerTradePct > 100 {
		errs = append(errs, fmt.Errorf("bot.max_risk_per_trade_pct вне диапазона: %v", c.Bot.MaxRiskPerTradePct))
	}
	if c.Bot.MinPositionValue <= 0 || c.Bot.MaxPositionValue < c.Bot.MinPositionValue {
		errs = append(errs, fmt.Errorf("некорректные границы позиции: min=%v max=%v", c.Bot.MinPositionValue, c.Bot.MaxPositionValue))
	}
	if c.Bot.MaxExposurePct <= 0 {
		errs = append(errs, fmt.Errorf("bot.max_exposure_pct должен быть > 0: %v", c.Bot.MaxExposurePct))
	}
	if c.Bot.TakeProfitPct <= 0 || c.Bot.StopLossPct <= 0 || c.Bot.StopLossPct >= 100 {
		errs = append(errs, fmt.Errorf("некорректные TP/SL: tp=%v sl=%v", c.Bot.TakeProfitPct, c.Bot.StopLossPct))
	}
	if c.Bot.MaxDailyTrades < 0 || c.Bot.MaxConsecutiveLosses < 0 || c.Bot.MaxConcurrentTrades < 0 {
		errs = append(errs, errors.New("лимиты сделок не могут быть отрицательными"))
	}
	if c.Execution.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("execution.max_attempts должен быть >= 1: %d", c.Execution.MaxAttempts))
	}
	return errors.Join(errs...)
}

// Symbol maps an asset ticker (BTC) to the exchange instrument (BTCUSDT).
func (c *Config) Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if strings.HasSuffix(coin, c.Exchange.QuoteCoin) {
		return coin
	}
	return coin + c.Exchange.QuoteCoin
}

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}

func parseAssets(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			coin := strings.ToUpper(strings.TrimSpace(part))
			if coin == "" || seen[coin] {
				continue
			}
			seen[coin] = true
			out = append(out, coin)
		}
	}
	return out
}

func readMultipliers(v *viper.Viper) map[string]float64 {
	return map[string]float64{
		"HIGH":   v.GetFloat64("bot.conviction_multipliers.high"),
		"MEDIUM": v.GetFloat64("bot.conviction_multipliers.medium"),
		"LOW":    v.GetFloat64("bot.conviction_multipliers.low"),
	}
}

func intervalDuration(interval string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return 0
}
