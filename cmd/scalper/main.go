// scalper - маркет-мейкинг бот для USDT-M фьючерсов
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scalper/internal/api"
	"scalper/internal/bot"
	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/notify"
	"scalper/internal/websocket"
	"scalper/pkg/utils"
)

var (
	version = "0.1.0"
	envFile string
	dryRun  bool
)

const (
	shutdownTimeout = 30 * time.Second
	notifyDrainWait = 5 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scalper",
		Short: "Grid market-making bot for USDT-M futures",
		Long: `scalper quotes a symmetric pair of limit orders around the mid price
on every configured symbol, manages filled positions with take-profit,
stop-loss, trailing and time exits, and stops entries at the daily loss limit.`,
		SilenceUsage: true,
		RunE:         runBot,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to .env file (default: ./.env if present)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Log orders instead of placing them")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start trading (default)",
		RunE:  runBot,
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect to exchanges and print balance, limits and market data per pair",
		RunE:  runCheck,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scalper version %s\n", version)
		},
	}
}

// loadConfig загружает и проверяет конфигурацию, инициализирует глобальный логгер
func loadConfig() (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		cfg.Trading.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	return cfg, log, nil
}

// buildExchanges создаёт адаптеры бирж из конфигурации
func buildExchanges(cfg *config.Config, log *utils.Logger) (map[string]exchange.Exchange, error) {
	exchanges := make(map[string]exchange.Exchange, len(cfg.Exchanges))
	for _, c := range cfg.Exchanges {
		ex, err := exchange.NewExchange(c.Name, exchange.Options{Testnet: c.Testnet, Logger: log})
		if err != nil {
			return nil, err
		}
		exchanges[c.Name] = ex
	}
	return exchanges, nil
}

// buildNotifier собирает каналы уведомлений: лог, поток и Telegram при наличии токена
func buildNotifier(cfg *config.Config, hub *websocket.Hub, log *utils.Logger) *notify.Dispatcher {
	sinks := []notify.Sink{notify.NewLogSink(log), hub}

	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSink(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			log.Warn("telegram notifications disabled", utils.Err(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	return notify.NewDispatcher(notify.DefaultBufferSize, log, sinks...)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	exchanges, err := buildExchanges(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// поток и уведомления живут дольше движка: завершающие сообщения должны уйти
	auxCtx, cancelAux := context.WithCancel(context.Background())
	defer cancelAux()

	hub := websocket.NewHub(cfg.Server.AllowedOrigins, log)
	go hub.Run(auxCtx)

	dispatcher := buildNotifier(cfg, hub, log)
	notifyCtx, cancelNotify := context.WithCancel(auxCtx)
	go dispatcher.Run(notifyCtx)

	engine := bot.NewEngine(cfg, exchanges,
		bot.WithNotifier(dispatcher),
		bot.WithLogger(log),
		bot.WithSummaryHook(hub.BroadcastSummary),
	)

	if err := engine.Start(ctx); err != nil {
		cancelNotify()
		waitDone(dispatcher.Done(), notifyDrainWait)
		return fmt.Errorf("failed to start engine: %w", err)
	}

	router := api.NewRouter(engine, api.Options{
		TokenHash:      cfg.Server.APITokenHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Stream:         http.HandlerFunc(hub.ServeWS),
		OnPairsChanged: hub.BroadcastPairs,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("status API listening", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	var exitErr error
	select {
	case exitErr = <-runErr:
	case err := <-serverErr:
		exitErr = fmt.Errorf("status API failed: %w", err)
		stop()
		<-runErr
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("status API shutdown", utils.Err(err))
	}

	engine.Stop()
	dispatcher.Send("🛑 Scalper stopped")

	cancelNotify()
	waitDone(dispatcher.Done(), notifyDrainWait)
	cancelAux()
	exchange.CloseGlobalClient()

	if errors.Is(exitErr, bot.ErrDailyStop) {
		log.Info("exited on daily stop, positions are flat")
		return nil
	}
	return exitErr
}

func waitDone(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
