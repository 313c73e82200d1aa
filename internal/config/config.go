/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the delivery-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	FulfillmentEventQueue    string `mapstructure:"FULFILLMENT_EVENT_QUEUE"`
	FulfillmentEventExchange string `mapstructure:"FULFILLMENT_EVENT_EXCHANGE"`
	AbuseSignalExchange      string `mapstructure:"ABUSE_SIGNAL_EXCHANGE"`
	JWKSURL                  string `mapstructure:"JWKS_URL"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	EntitlementExpiryHours   int    `mapstructure:"ENTITLEMENT_EXPIRY_HOURS"`
	EntitlementMaxUses       int    `mapstructure:"ENTITLEMENT_MAX_USES"`
	RegenerationLimit        int    `mapstructure:"REGENERATION_LIMIT"`
	FileAccessTTLSeconds     int    `mapstructure:"FILE_ACCESS_TTL_SECONDS"`
	AllowAnonymousRedemption bool   `mapstructure:"ALLOW_ANONYMOUS_REDEMPTION"`
	AbuseWindowHours         int    `mapstructure:"ABUSE_WINDOW_HOURS"`
	AbuseOriginThreshold     int    `mapstructure:"ABUSE_ORIGIN_THRESHOLD"`
	AbuseSweepSchedule       string `mapstructure:"ABUSE_SWEEP_SCHEDULE"`
	AbuseSweepPageSize       int    `mapstructure:"ABUSE_SWEEP_PAGE_SIZE"`
	RedeemRateLimitPerMinute int    `mapstructure:"REDEEM_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "kitestore:rate_limit")
	viper.SetDefault("FULFILLMENT_EVENT_QUEUE", "delivery_service.order_fulfillments")
	viper.SetDefault("FULFILLMENT_EVENT_EXCHANGE", "orders")
	viper.SetDefault("ABUSE_SIGNAL_EXCHANGE", "delivery")
	viper.SetDefault("ENTITLEMENT_EXPIRY_HOURS", 48)
	viper.SetDefault("ENTITLEMENT_MAX_USES", 5)
	viper.SetDefault("REGENERATION_LIMIT", 3)
	viper.SetDefault("FILE_ACCESS_TTL_SECONDS", 300)
	viper.SetDefault("ALLOW_ANONYMOUS_REDEMPTION", true)
	viper.SetDefault("ABUSE_WINDOW_HOURS", 24)
	viper.SetDefault("ABUSE_ORIGIN_THRESHOLD", 3)
	viper.SetDefault("ABUSE_SWEEP_SCHEDULE", "@every 1h")
	viper.SetDefault("ABUSE_SWEEP_PAGE_SIZE", 200)
	viper.SetDefault("REDEEM_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("FULFILLMENT_EVENT_QUEUE")
	_ = viper.BindEnv("FULFILLMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("ABUSE_SIGNAL_EXCHANGE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("ENTITLEMENT_EXPIRY_HOURS")
	_ = viper.BindEnv("ENTITLEMENT_MAX_USES")
	_ = viper.BindEnv("REGENERATION_LIMIT")
	_ = viper.BindEnv("FILE_ACCESS_TTL_SECONDS")
	_ = viper.BindEnv("ALLOW_ANONYMOUS_REDEMPTION")
	_ = viper.BindEnv("ABUSE_WINDOW_HOURS")
	_ = viper.BindEnv("ABUSE_ORIGIN_THRESHOLD")
	_ = viper.BindEnv("ABUSE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("ABUSE_SWEEP_PAGE_SIZE")
	_ = viper.BindEnv("REDEEM_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "kitestore:rate_limit"
	}
	return
}
