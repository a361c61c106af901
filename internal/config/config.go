package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"scalper/pkg/crypto"
	"scalper/pkg/utils"
)

// Config содержит всю конфигурацию приложения
// Загружается один раз при старте и не меняется до конца работы
type Config struct {
	Server    ServerConfig
	Exchanges []ExchangeConfig
	Trading   TradingConfig
	Notify    NotifyConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки статус-API
type ServerConfig struct {
	Port         int
	Host         string
	APITokenHash string // bcrypt хэш bearer токена; пусто = без авторизации

	AllowedOrigins []string // origin для браузерных клиентов; пусто = любые
}

// ExchangeConfig - подключение к бирже и список пар
type ExchangeConfig struct {
	Name       string
	APIKey     string
	SecretKey  string
	Passphrase string
	Pairs      []string
	Testnet    bool
}

// TradingConfig - параметры торговли
type TradingConfig struct {
	// Фильтры рынка
	MinVolatility           float64 // нижняя граница волатильности для расчёта спреда
	MaxVolatility           float64 // выше - цикл пропускается
	MinSpread               float64 // дополнительный пол требуемого спреда
	MaxSpread               float64 // книга шире - цикл пропускается (0 = без ограничения)
	MinVolume               float64 // минимальный объём за 24ч (0 = без фильтра)
	HighVolatilityThreshold float64 // выше - воркер переходит в режим риска

	// Размер и плечо
	RiskPerTrade float64
	LowLeverage  int
	HighLeverage int
	MinOrderUSDT float64
	MaxOrderUSDT float64

	// Лимиты
	DailyStopLoss     float64
	MaxPositions      int
	MaxPairs          int
	WorkerExposureCap float64

	// Интервалы
	WorkerInterval        time.Duration
	MonitorInterval       time.Duration
	SummaryInterval       time.Duration
	SweepInterval         time.Duration
	DecayInterval         time.Duration
	SymbolRefreshInterval time.Duration
	BalanceInterval       time.Duration

	// Окна
	StaleOrderAge    time.Duration
	OrderRefreshAge  time.Duration
	PositionMaxAge   time.Duration
	CloseSettleDelay time.Duration
	RequestTimeout   time.Duration

	// Лимиты запросов на биржу
	RatePerSecond int
	RatePerMinute int

	// Режим
	DryRun          bool
	ExitOnDailyStop bool
}

// NotifyConfig - уведомления в Telegram
type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID int64
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultTradingConfig возвращает значения по умолчанию
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		MinVolatility:           0,
		MaxVolatility:           0.05,
		MinSpread:               0,
		MaxSpread:               0.02,
		MinVolume:               0,
		HighVolatilityThreshold: 0.02,

		RiskPerTrade: 0.002,
		LowLeverage:  3,
		HighLeverage: 5,
		MinOrderUSDT: 10,
		MaxOrderUSDT: 50,

		DailyStopLoss:     300,
		MaxPositions:      10,
		MaxPairs:          20,
		WorkerExposureCap: 1000,

		WorkerInterval:        500 * time.Millisecond,
		MonitorInterval:       100 * time.Millisecond,
		SummaryInterval:       10 * time.Second,
		SweepInterval:         5 * time.Minute,
		DecayInterval:         time.Minute,
		SymbolRefreshInterval: 5 * time.Minute,
		BalanceInterval:       time.Minute,

		StaleOrderAge:    300 * time.Millisecond,
		OrderRefreshAge:  10 * time.Second,
		PositionMaxAge:   5 * time.Minute,
		CloseSettleDelay: 500 * time.Millisecond,
		RequestTimeout:   5 * time.Second,

		RatePerSecond: 18,
		RatePerMinute: 1100,
	}
}

// Load загружает конфигурацию из переменных окружения
//
// envFile - необязательный .env файл; переменные окружения процесса имеют приоритет.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// .env в рабочей директории необязателен
		_ = godotenv.Load()
	}

	def := DefaultTradingConfig()
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			APITokenHash: getEnv("API_TOKEN_HASH", ""),

			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
		},
		Trading: TradingConfig{
			MinVolatility:           getEnvAsFloat("MIN_VOLATILITY", def.MinVolatility),
			MaxVolatility:           getEnvAsFloat("MAX_VOLATILITY", def.MaxVolatility),
			MinSpread:               getEnvAsFloat("MIN_SPREAD", def.MinSpread),
			MaxSpread:               getEnvAsFloat("MAX_SPREAD", def.MaxSpread),
			MinVolume:               getEnvAsFloat("MIN_VOLUME", def.MinVolume),
			HighVolatilityThreshold: getEnvAsFloat("HIGH_VOLATILITY_THRESHOLD", def.HighVolatilityThreshold),

			RiskPerTrade: getEnvAsFloat("RISK_PER_TRADE", def.RiskPerTrade),
			LowLeverage:  getEnvAsInt("LOW_LEVERAGE", def.LowLeverage),
			HighLeverage: getEnvAsInt("HIGH_LEVERAGE", def.HighLeverage),
			MinOrderUSDT: getEnvAsFloat("MIN_ORDER_USDT", def.MinOrderUSDT),
			MaxOrderUSDT: getEnvAsFloat("MAX_ORDER_USDT", def.MaxOrderUSDT),

			DailyStopLoss:     getEnvAsFloat("DAILY_STOP_LOSS", def.DailyStopLoss),
			MaxPositions:      getEnvAsInt("MAX_POSITIONS", def.MaxPositions),
			MaxPairs:          getEnvAsInt("MAX_PAIRS", def.MaxPairs),
			WorkerExposureCap: getEnvAsFloat("WORKER_EXPOSURE_CAP", def.WorkerExposureCap),

			WorkerInterval:        getEnvAsDuration("WORKER_INTERVAL", def.WorkerInterval),
			MonitorInterval:       getEnvAsDuration("MONITOR_INTERVAL", def.MonitorInterval),
			SummaryInterval:       getEnvAsDuration("SUMMARY_INTERVAL", def.SummaryInterval),
			SweepInterval:         getEnvAsDuration("SWEEP_INTERVAL", def.SweepInterval),
			DecayInterval:         getEnvAsDuration("DECAY_INTERVAL", def.DecayInterval),
			SymbolRefreshInterval: getEnvAsDuration("SYMBOL_REFRESH_INTERVAL", def.SymbolRefreshInterval),
			BalanceInterval:       getEnvAsDuration("BALANCE_INTERVAL", def.BalanceInterval),

			StaleOrderAge:    getEnvAsDuration("STALE_ORDER_AGE", def.StaleOrderAge),
			OrderRefreshAge:  getEnvAsDuration("ORDER_REFRESH_AGE", def.OrderRefreshAge),
			PositionMaxAge:   getEnvAsDuration("POSITION_MAX_AGE", def.PositionMaxAge),
			CloseSettleDelay: getEnvAsDuration("CLOSE_SETTLE_DELAY", def.CloseSettleDelay),
			RequestTimeout:   getEnvAsDuration("REQUEST_TIMEOUT", def.RequestTimeout),

			RatePerSecond: getEnvAsInt("RATE_PER_SECOND", def.RatePerSecond),
			RatePerMinute: getEnvAsInt("RATE_PER_MINUTE", def.RatePerMinute),

			DryRun:          getEnvAsBool("DRY_RUN", false),
			ExitOnDailyStop: getEnvAsBool("EXIT_ON_DAILY_STOP", false),
		},
		Notify: NotifyConfig{
			TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
			TelegramChatID: int64(getEnvAsInt("TELEGRAM_CHAT_ID", 0)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	exchanges, err := loadExchanges()
	if err != nil {
		return nil, err
	}
	cfg.Exchanges = exchanges

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadExchanges читает EXCHANGES=bybit,binance и секции <NAME>_*
//
// Секреты с префиксом enc: расшифровываются ключом CREDENTIALS_KEY.
func loadExchanges() ([]ExchangeConfig, error) {
	names := getEnvAsList("EXCHANGES", nil)
	if len(names) == 0 {
		return nil, nil
	}

	var key []byte
	if raw := getEnv("CREDENTIALS_KEY", ""); raw != "" {
		parsed, err := crypto.ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("CREDENTIALS_KEY: %w", err)
		}
		key = parsed
	}

	exchanges := make([]ExchangeConfig, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(name)
		prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"

		ex := ExchangeConfig{
			Name:    name,
			Testnet: getEnvAsBool(prefix+"TESTNET", false),
		}

		var err error
		if ex.APIKey, err = crypto.RevealSecret(getEnv(prefix+"API_KEY", ""), key); err != nil {
			return nil, fmt.Errorf("%sAPI_KEY: %w", prefix, err)
		}
		if ex.SecretKey, err = crypto.RevealSecret(getEnv(prefix+"SECRET_KEY", ""), key); err != nil {
			return nil, fmt.Errorf("%sSECRET_KEY: %w", prefix, err)
		}
		if ex.Passphrase, err = crypto.RevealSecret(getEnv(prefix+"PASSPHRASE", ""), key); err != nil {
			return nil, fmt.Errorf("%sPASSPHRASE: %w", prefix, err)
		}

		for _, pair := range getEnvAsList(prefix+"PAIRS", nil) {
			ex.Pairs = append(ex.Pairs, utils.NormalizeSymbol(pair))
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, nil
}

// Validate проверяет параметры, необходимые для запуска торговли
// В dry-run ключи API не нужны: биржи заменяются симулятором
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("EXCHANGES is required")
	}

	for _, ex := range c.Exchanges {
		if len(ex.Pairs) == 0 {
			return fmt.Errorf("%s: no pairs configured", ex.Name)
		}
		for _, pair := range ex.Pairs {
			if err := utils.ValidateSymbol(pair); err != nil {
				return fmt.Errorf("%s: %w", ex.Name, err)
			}
		}
		if c.Trading.DryRun {
			continue
		}
		if err := utils.ValidateAPIKey(ex.APIKey); err != nil {
			return fmt.Errorf("%s: %w", ex.Name, err)
		}
		if ex.SecretKey == "" {
			return fmt.Errorf("%s: secret key is required", ex.Name)
		}
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	t := c.Trading
	if t.RiskPerTrade <= 0 || t.RiskPerTrade >= 1 {
		return fmt.Errorf("RISK_PER_TRADE must be in (0, 1), got %v", t.RiskPerTrade)
	}
	if t.MinOrderUSDT <= 0 || t.MinOrderUSDT > t.MaxOrderUSDT {
		return fmt.Errorf("MIN_ORDER_USDT must be positive and <= MAX_ORDER_USDT, got %v > %v", t.MinOrderUSDT, t.MaxOrderUSDT)
	}
	if t.DailyStopLoss <= 0 {
		return fmt.Errorf("DAILY_STOP_LOSS must be positive, got %v", t.DailyStopLoss)
	}
	if t.MaxPositions <= 0 || t.MaxPairs <= 0 {
		return fmt.Errorf("MAX_POSITIONS and MAX_PAIRS must be positive")
	}
	if t.LowLeverage <= 0 || t.HighLeverage < t.LowLeverage {
		return fmt.Errorf("leverage must satisfy 0 < LOW_LEVERAGE <= HIGH_LEVERAGE, got %d/%d", t.LowLeverage, t.HighLeverage)
	}
	if t.RatePerSecond <= 0 || t.RatePerMinute <= 0 {
		return fmt.Errorf("RATE_PER_SECOND and RATE_PER_MINUTE must be positive")
	}

	intervals := map[string]time.Duration{
		"WORKER_INTERVAL":         t.WorkerInterval,
		"MONITOR_INTERVAL":        t.MonitorInterval,
		"SUMMARY_INTERVAL":        t.SummaryInterval,
		"SWEEP_INTERVAL":          t.SweepInterval,
		"DECAY_INTERVAL":          t.DecayInterval,
		"SYMBOL_REFRESH_INTERVAL": t.SymbolRefreshInterval,
		"BALANCE_INTERVAL":        t.BalanceInterval,
		"POSITION_MAX_AGE":        t.PositionMaxAge,
		"REQUEST_TIMEOUT":         t.RequestTimeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
