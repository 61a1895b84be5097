// cmd/matchmaker/root.go
package main

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/matchmaker/internal/config"
	"github.com/jason-s-yu/matchmaker/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app is shared by the subcommands; it is filled in by the root command's
// PersistentPreRunE.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:           "matchmaker",
		Short:         "Redis-backed matchmaking and lobby admission service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.LogLevel)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("redis-addr", "localhost:6379", "Redis address (REDIS_ADDR)")
	flags.Int("redis-db", 0, "Redis database number (REDIS_DB)")
	flags.String("log-level", "info", "log level: debug, info, warn, error (LOG_LEVEL)")
	flags.Int("max-joiners", 4, "joiner capacity per lobby (MAX_JOINERS)")
	flags.Int("avg-match-seconds", 10, "average admission round length used for ETAs (AVG_MATCH_SECONDS)")
	mustBind(a.v, flags, map[string]string{
		config.KeyRedisAddr:       "redis-addr",
		config.KeyRedisDB:         "redis-db",
		config.KeyLogLevel:        "log-level",
		config.KeyMaxJoiners:      "max-joiners",
		config.KeyAvgMatchSeconds: "avg-match-seconds",
	})

	cmd.AddCommand(newServeCommand(a), newLobbiesCommand(a), newStatsCommand(a))
	return cmd
}

func mustBind(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// connect opens the Redis connection and the store on top of it.
func (a *app) connect(ctx context.Context) (*redis.Client, *store.Redis, error) {
	rdb, err := store.ConnectRedis(ctx, a.cfg.RedisAddr, a.cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return rdb, store.NewRedis(rdb, a.logger), nil
}
