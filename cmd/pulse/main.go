package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulseplan/pulse/agent/conversation"
	"github.com/pulseplan/pulse/agent/convstate"
	"github.com/pulseplan/pulse/agent/intent"
	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/agent/orchestrator"
	"github.com/pulseplan/pulse/agent/taskcard"
	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/internal/telemetry"
	"github.com/pulseplan/pulse/internal/version"
	"github.com/pulseplan/pulse/llm"
	"github.com/pulseplan/pulse/scheduler/service"
	"github.com/pulseplan/pulse/scheduler/verify"
	"github.com/pulseplan/pulse/server"
	apiv1 "github.com/pulseplan/pulse/server/router/api/v1"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: `An intelligent task and calendar scheduling service with a conversational agent.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Systemd deployments pass environment through the unit file instead.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:            viper.GetString("mode"),
			Addr:            viper.GetString("addr"),
			Port:            viper.GetInt("port"),
			UNIXSock:        viper.GetString("unix-sock"),
			Data:            viper.GetString("data"),
			Driver:          viper.GetString("driver"),
			DSN:             viper.GetString("dsn"),
			InstanceURL:     viper.GetString("instance-url"),
			SchedulerConfig: viper.GetString("scheduler-config"),
			Version:         version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "err", err)
			return
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "err", err)
			return
		}

		schedulerCfg, cfgViper, err := config.Load(instanceProfile.SchedulerConfig)
		if err != nil {
			slog.Error("failed to load scheduler config", "path", instanceProfile.SchedulerConfig, "err", err)
			return
		}
		cfgManager := config.NewManager(schedulerCfg, cfgViper)

		tel := telemetry.New(telemetry.DefaultConfig())

		kv, err := newKV(ctx, instanceProfile, schedulerCfg)
		if err != nil {
			slog.Error("failed to create cache backend", "driver", instanceProfile.CacheDriver, "err", err)
			return
		}
		defer func() { _ = kv.Close() }()

		chat := newChatService(ctx, instanceProfile, schedulerCfg, kv, storeInstance, tel)

		verifier := verify.New(verify.Config{Enabled: true, Mode: verify.ModeBasic}, tel)
		schedService := service.New(storeInstance, kv, cfgManager, tel, verifier)

		notifier := notify.New(tel)
		conversations := conversation.NewManager(storeInstance, kv, cfgManager.Get())
		states := convstate.NewManager(kv)
		var classifier intent.Classifier = intent.NewRuleClassifier()
		if chat != nil {
			classifier = intent.NewLLMClassifier(chat)
		}
		processor := intent.NewProcessor(states, intent.NewContextLoader(storeInstance), classifier, chat, tel)
		cards := taskcard.New(storeInstance, notifier)
		orch := orchestrator.New(storeInstance, conversations, processor, cards, notifier, chat, schedService, tel)

		api := apiv1.NewAPIV1Service(instanceProfile, storeInstance, cfgManager, schedService, orch, notifier, verifier, tel, chat)
		s, err := server.NewServer(ctx, instanceProfile, api)
		if err != nil {
			slog.Error("failed to create server", "err", err)
			return
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal used by most process
		// managers (systemd, kubernetes).
		signal.Notify(c, terminationSignals...)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "err", err)
				cancel()
			}
		}

		<-ctx.Done()
	},
}

// newKV selects the cache backend from the profile.
func newKV(ctx context.Context, p *profile.Profile, cfg *config.Config) (cache.KV, error) {
	if p.CacheDriver == "redis" {
		return cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     p.RedisAddr,
			Password: p.RedisPassword,
			DB:       p.RedisDB,
		})
	}
	return cache.NewMemory(cfg.Cache.MemoryCapacity), nil
}

// newChatService wires the LLM stack: provider client, response cache, and
// error boundary. Returns nil when no API key is configured; the agent then
// runs on rule-based classification alone.
func newChatService(ctx context.Context, p *profile.Profile, cfg *config.Config, kv cache.KV, st *store.Store, tel *telemetry.Telemetry) llm.Service {
	if !p.IsLLMEnabled() {
		slog.Info("no LLM API key configured, agent runs rule-based")
		return nil
	}
	inner, err := llm.NewService(llm.ConfigFromProfile(p))
	if err != nil {
		slog.Error("failed to create llm service, agent runs rule-based", "provider", p.LLMProvider, "err", err)
		return nil
	}
	ttl := time.Duration(cfg.Cache.LLMCacheTTLMinutes) * time.Minute
	cached := llm.NewCachedService(inner, kv, st, tel, p.LLMModel, ttl)
	chat := llm.NewBoundary(cached, p.LLMModel, tel, llm.BoundaryConfig{})
	go chat.Warmup(ctx)
	return chat
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("unix-sock", "", "path to the unix socket, overrides --addr and --port")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("instance-url", "", "the url of your pulse instance")
	rootCmd.PersistentFlags().String("scheduler-config", "", "path to the scheduler YAML/JSON config file")

	for _, flag := range []string{"mode", "addr", "port", "unix-sock", "data", "driver", "dsn", "instance-url", "scheduler-config"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("pulse")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Pulse %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Cache driver: %s\n", p.CacheDriver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if p.IsLLMEnabled() {
		fmt.Printf("LLM provider: %s (%s)\n", p.LLMProvider, p.LLMModel)
	} else {
		fmt.Println("LLM: disabled (rule-based agent)")
	}

	if len(p.UNIXSock) == 0 {
		if len(p.Addr) == 0 {
			fmt.Printf("Server running on port %d\n", p.Port)
		} else {
			fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		}
	} else {
		fmt.Printf("Server running on unix socket: %s\n", p.UNIXSock)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
