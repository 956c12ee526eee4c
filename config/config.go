package config

import (
	"time"

	"anchorebridge/deploy"
	"anchorebridge/tokenmap"
)

type Configuration struct {
	// Server config
	Server struct {
		Addr           string   `yaml:"addr"`
		UseSSL         bool     `yaml:"ssl"`
		CertFile       string   `yaml:"cert_file" split_words:"true"`
		KeyFile        string   `yaml:"key_file" split_words:"true"`
		AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
		MetricsPort    int      `yaml:"metrics_port" split_words:"true"`
		RedisPort      int      `yaml:"redis_port" split_words:"true"`
		RedisHost      string   `yaml:"redis_host" split_words:"true"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
		Dir   string `yaml:"dir"` // daily log files, stdout only when empty
	} `yaml:"log"`
	// source chain
	EVM struct {
		ChainID          uint64        `yaml:"chain_id" split_words:"true"`
		RPCList          []string      `yaml:"rpc_list" split_words:"true"`
		VaultAddress     string        `yaml:"vault_address" split_words:"true"`
		MinConfirmations uint64        `yaml:"min_confirmations" split_words:"true"`
		BlockBatch       uint64        `yaml:"block_batch" split_words:"true"`
		SafetyWindow     uint64        `yaml:"safety_window" split_words:"true"` // rescanned behind the cursor on every pass
		PollInterval     time.Duration `yaml:"poll_interval" split_words:"true"`
		MaxInFlight      int           `yaml:"max_in_flight" split_words:"true"`
	} `yaml:"EVM"`
	// destination chain
	Casper struct {
		NodeURL           string        `yaml:"node_url" split_words:"true"`
		ChainName         string        `yaml:"chain_name" split_words:"true"`
		BridgeContract    string        `yaml:"bridge_contract" split_words:"true"` // hash-... or contract-package-...
		ResolvePackages   bool          `yaml:"resolve_packages" split_words:"true"`
		RequestsPerSecond float64       `yaml:"requests_per_second" split_words:"true"`
		Timeout           time.Duration `yaml:"timeout"`
		TTL               time.Duration `yaml:"ttl"`
		GasPrice          uint64        `yaml:"gas_price" split_words:"true"`
		// important private stuff, either a key file or the tagged hex key
		KeyFile    string `yaml:"key_file" split_words:"true"`
		PrivateKey string `yaml:"private_key" split_words:"true"`
	} `yaml:"casper"`
	Release struct {
		ShouldSwap      bool          `yaml:"should_swap" split_words:"true"`
		PaymentMotes    int64         `yaml:"payment_motes" split_words:"true"`
		MaxAttempts     int           `yaml:"max_attempts" split_words:"true"`
		RetryBackoff    time.Duration `yaml:"retry_backoff" split_words:"true"`
		MaxBackoff      time.Duration `yaml:"max_backoff" split_words:"true"`
		StaleAfter      time.Duration `yaml:"stale_after" split_words:"true"`
		ConfirmInterval time.Duration `yaml:"confirm_interval" split_words:"true"`
		ExpireAfter     time.Duration `yaml:"expire_after" split_words:"true"`
	} `yaml:"release"`
	Notify struct {
		Driver  string        `yaml:"driver"` // kafka or stdio, off when neither driver nor brokers are set
		Brokers []string      `yaml:"brokers"`
		Topic   string        `yaml:"topic"`
		TLS     bool          `yaml:"tls"`
		Timeout time.Duration `yaml:"timeout"` // per message
	} `yaml:"notify"`
	TokenMap []tokenmap.Entry `yaml:"token_map" ignored:"true"`
}

var Config Configuration

const (
	defaultServerAddr      = ":8080"
	defaultMetricsPort     = 2112
	defaultBlockBatch      = 512
	defaultSafetyWindow    = 10
	defaultPollInterval    = 10 * time.Second
	defaultMaxInFlight     = 8
	defaultCasperTimeout   = 30 * time.Second
	defaultConfirmInterval = 15 * time.Second
	defaultExpireAfter     = time.Hour
)

func (c *Configuration) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = defaultMetricsPort
	}
	if c.Server.RedisHost == "" {
		c.Server.RedisHost = "localhost"
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = 6379
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.EVM.BlockBatch == 0 {
		c.EVM.BlockBatch = defaultBlockBatch
	}
	if c.EVM.SafetyWindow == 0 {
		c.EVM.SafetyWindow = defaultSafetyWindow
	}
	if c.EVM.PollInterval == 0 {
		c.EVM.PollInterval = defaultPollInterval
	}
	if c.EVM.MaxInFlight == 0 {
		c.EVM.MaxInFlight = defaultMaxInFlight
	}
	if c.Casper.Timeout == 0 {
		c.Casper.Timeout = defaultCasperTimeout
	}
	if c.Casper.TTL == 0 {
		c.Casper.TTL = deploy.DefaultTTL
	}
	if c.Release.ConfirmInterval == 0 {
		c.Release.ConfirmInterval = defaultConfirmInterval
	}
	if c.Release.ExpireAfter == 0 {
		c.Release.ExpireAfter = defaultExpireAfter
	}
	for i, e := range c.TokenMap {
		if e.SourceChainID == 0 {
			c.TokenMap[i].SourceChainID = c.EVM.ChainID
		}
	}
}
