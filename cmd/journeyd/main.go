package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/journeyhq/journey/agent"
	"github.com/journeyhq/journey/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "journey", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().Int("shard-count", 16, "number of contact shard workers")
	cmd.Flags().Int("worker-capacity", 512, "shard worker queue capacity")
	cmd.Flags().Int("tick-interval", 1, "scheduler tick interval in seconds")
	cmd.Flags().Int("batch-size", 100, "wake queue batch size per tick")
	cmd.Flags().Int("retry-limit", 3, "action retries before an instance fails")
	cmd.Flags().Int64("retry-backoff", 60, "base retry backoff in seconds")
	cmd.Flags().String("reference-timezone", "UTC", "timezone for flows not using contact local time")
	cmd.Flags().String("schema-file", "", "path to the contact property schema json")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.ShardCount = viper.GetInt("shard-count")
	c.cfg.WorkerCapacity = viper.GetInt("worker-capacity")
	c.cfg.TickIntervalSeconds = viper.GetInt("tick-interval")
	c.cfg.BatchSize = viper.GetInt("batch-size")
	c.cfg.RetryLimit = viper.GetInt("retry-limit")
	c.cfg.RetryBackoffSeconds = viper.GetInt64("retry-backoff")
	c.cfg.ReferenceTimezone = viper.GetString("reference-timezone")
	c.cfg.SchemaFile = viper.GetString("schema-file")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "journeyd",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
