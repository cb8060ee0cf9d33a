package config

type Config struct {
	RedisConfig         RedisStorageConfig
	HttpPort            int
	ShardCount          int
	WorkerCapacity      int
	TickIntervalSeconds int
	BatchSize           int
	RetryLimit          int
	RetryBackoffSeconds int64
	ReferenceTimezone   string
	SchemaFile          string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
