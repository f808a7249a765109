package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/twsbridge/pkg/broker"
	"github.com/gregtusar/twsbridge/pkg/gateway"
	"github.com/gregtusar/twsbridge/pkg/secrets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Timeouts   TimeoutsConfig   `mapstructure:"timeouts"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	IDs        IDsConfig        `mapstructure:"ids"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	GCP        GCPConfig        `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type GatewayConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	ClientID int    `mapstructure:"client_id"`
	Path     string `mapstructure:"path"`
	TLS      bool   `mapstructure:"tls"`

	AuthType      string `mapstructure:"auth_type"` // "none", "token" or "jwt"
	Token         string `mapstructure:"token"`
	KeyName       string `mapstructure:"key_name"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`

	// Outbound messages per second; the gateway drops clients that exceed 50.
	RateLimit        float64       `mapstructure:"rate_limit"`
	Burst            int           `mapstructure:"burst"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	Simulate bool `mapstructure:"simulate"`
}

type TimeoutsConfig struct {
	NextValidID time.Duration `mapstructure:"next_valid_id"`
	OrderAck    time.Duration `mapstructure:"order_ack"`
	Cancel      time.Duration `mapstructure:"cancel"`
	Modify      time.Duration `mapstructure:"modify"`
	OpenOrders  time.Duration `mapstructure:"open_orders"`
	Positions   time.Duration `mapstructure:"positions"`
	Quotes      time.Duration `mapstructure:"quotes"`
	Trades      time.Duration `mapstructure:"trades"`
	Historical  time.Duration `mapstructure:"historical"`
}

type MarketDataConfig struct {
	TradeLogCapacity int           `mapstructure:"trade_log_capacity"`
	TradeLogMaxAge   time.Duration `mapstructure:"trade_log_max_age"`
}

type IDsConfig struct {
	RequestBase     int64 `mapstructure:"request_base"`
	FallbackOrderID int64 `mapstructure:"fallback_order_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/twsbridge")
	}

	v.SetEnvPrefix("TWSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 7497)
	v.SetDefault("gateway.client_id", 1)
	v.SetDefault("gateway.path", "/v1/ws")
	v.SetDefault("gateway.tls", false)
	v.SetDefault("gateway.auth_type", string(gateway.AuthTypeNone))
	v.SetDefault("gateway.rate_limit", 45.0)
	v.SetDefault("gateway.burst", 10)
	v.SetDefault("gateway.ping_interval", 30*time.Second)
	v.SetDefault("gateway.handshake_timeout", 10*time.Second)
	v.SetDefault("gateway.simulate", false)

	t := broker.DefaultTimeouts()
	v.SetDefault("timeouts.next_valid_id", t.NextValidID)
	v.SetDefault("timeouts.order_ack", t.OrderAck)
	v.SetDefault("timeouts.cancel", t.Cancel)
	v.SetDefault("timeouts.modify", t.Modify)
	v.SetDefault("timeouts.open_orders", t.OpenOrders)
	v.SetDefault("timeouts.positions", t.Positions)
	v.SetDefault("timeouts.quotes", t.Quotes)
	v.SetDefault("timeouts.trades", t.Trades)
	v.SetDefault("timeouts.historical", t.Historical)

	v.SetDefault("market_data.trade_log_capacity", 10_000)
	v.SetDefault("market_data.trade_log_max_age", 15*time.Minute)

	v.SetDefault("ids.request_base", 900_000_000)
	v.SetDefault("ids.fallback_order_id", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.gateway_token", secretNames.GatewayToken)
	v.SetDefault("gcp.secret_names.gateway_key_name", secretNames.GatewayKeyName)
	v.SetDefault("gcp.secret_names.gateway_private_key", secretNames.GatewayPrivateKey)
}

func overrideFromEnv(config *Config) {
	if host := os.Getenv("TWS_HOST"); host != "" {
		config.Gateway.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("TWS_PORT")); err == nil && port > 0 {
		config.Gateway.Port = port
	}
	if clientID, err := strconv.Atoi(os.Getenv("TWS_CLIENT_ID")); err == nil {
		config.Gateway.ClientID = clientID
	}

	if authType := os.Getenv("TWSBRIDGE_GATEWAY_AUTH_TYPE"); authType != "" {
		config.Gateway.AuthType = authType
	}
	if token := os.Getenv("TWSBRIDGE_GATEWAY_TOKEN"); token != "" {
		config.Gateway.Token = token
	}
	if keyName := os.Getenv("TWSBRIDGE_GATEWAY_KEY_NAME"); keyName != "" {
		config.Gateway.KeyName = keyName
	}
	if privateKey := os.Getenv("TWSBRIDGE_GATEWAY_PRIVATE_KEY"); privateKey != "" {
		config.Gateway.PrivateKeyPEM = privateKey
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && config.GCP.CredentialsFile == "" {
		config.GCP.CredentialsFile = creds
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	creds := secrets.GatewayCredentials{
		Token:         config.Gateway.Token,
		KeyName:       config.Gateway.KeyName,
		PrivateKeyPEM: config.Gateway.PrivateKeyPEM,
	}
	secretManager.Fill(ctx, config.GCP.SecretNames, &creds)
	config.Gateway.Token = creds.Token
	config.Gateway.KeyName = creds.KeyName
	config.Gateway.PrivateKeyPEM = creds.PrivateKeyPEM
	return nil
}

// Broker maps the loaded settings onto the bridge configuration.
func (c *Config) Broker() broker.Config {
	return broker.Config{
		Host:     c.Gateway.Host,
		Port:     c.Gateway.Port,
		ClientID: c.Gateway.ClientID,
		Timeouts: broker.Timeouts{
			NextValidID: c.Timeouts.NextValidID,
			OrderAck:    c.Timeouts.OrderAck,
			Cancel:      c.Timeouts.Cancel,
			Modify:      c.Timeouts.Modify,
			OpenOrders:  c.Timeouts.OpenOrders,
			Positions:   c.Timeouts.Positions,
			Quotes:      c.Timeouts.Quotes,
			Trades:      c.Timeouts.Trades,
			Historical:  c.Timeouts.Historical,
		},
		RequestIDBase:    c.IDs.RequestBase,
		FallbackOrderID:  c.IDs.FallbackOrderID,
		TradeLogCapacity: c.MarketData.TradeLogCapacity,
		TradeLogMaxAge:   c.MarketData.TradeLogMaxAge,
	}
}

// GatewayOptions builds the websocket transport options, including the
// handshake authenticator.
func (c *Config) GatewayOptions() (gateway.Options, error) {
	auth, err := gateway.NewAuthenticator(gateway.AuthType(c.Gateway.AuthType), c.Gateway.Token, c.Gateway.KeyName, c.Gateway.PrivateKeyPEM)
	if err != nil {
		return gateway.Options{}, err
	}
	return gateway.Options{
		Path:             c.Gateway.Path,
		TLS:              c.Gateway.TLS,
		Auth:             auth,
		RateLimit:        c.Gateway.RateLimit,
		Burst:            c.Gateway.Burst,
		PingInterval:     c.Gateway.PingInterval,
		HandshakeTimeout: c.Gateway.HandshakeTimeout,
	}, nil
}
