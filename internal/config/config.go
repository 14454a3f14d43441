package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"arena"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// RedisAddr empty keeps live sessions in process memory.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// AMQPURL empty disables settlement events.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"arena.events"`

	JWTSecret  string `env:"JWT_SECRET" envDefault:"super-secret-key-change-me"`
	BotAPIKey  string `env:"BOT_API_KEY" envDefault:"bot-api-key-change-me"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	WebhookBaseURL   string `env:"WEBHOOK_BASE_URL"`
	WebhookSecret    string `env:"WEBHOOK_SECRET"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	AdminIDs      []string `env:"ADMIN_IDS" envSeparator:","`
	SuperAdminIDs []string `env:"SUPER_ADMIN_IDS" envSeparator:","`

	RoundDuration        time.Duration `env:"ROUND_DURATION" envDefault:"15s"`
	DuelRounds           int           `env:"DUEL_ROUNDS" envDefault:"5"`
	TournamentRounds     int           `env:"TOURNAMENT_ROUNDS" envDefault:"10"`
	BasePoints           int           `env:"BASE_POINTS" envDefault:"100"`
	SpeedBonus           int           `env:"SPEED_BONUS" envDefault:"50"`
	TournamentCapacity   int           `env:"TOURNAMENT_CAPACITY" envDefault:"8"`
	TournamentMinPlayers int           `env:"TOURNAMENT_MIN_PLAYERS" envDefault:"3"`
	LobbyTimeout         time.Duration `env:"LOBBY_TIMEOUT" envDefault:"60s"`
	DuelChallengeTimeout time.Duration `env:"DUEL_CHALLENGE_TIMEOUT" envDefault:"5m"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`
	MinStake             int64         `env:"MIN_STAKE" envDefault:"1"`
	MaxStake             int64         `env:"MAX_STAKE" envDefault:"10000"`

	HouseFeePercent       int   `env:"HOUSE_FEE_PERCENT" envDefault:"0"`
	TournamentShares      []int `env:"TOURNAMENT_SHARES" envSeparator:"," envDefault:"50,30,20"`
	TournamentPremiumDays []int `env:"TOURNAMENT_PREMIUM_DAYS" envSeparator:"," envDefault:"7,3,1"`
	PremiumTournaments    bool  `env:"PREMIUM_TOURNAMENTS" envDefault:"false"`

	MirrorWorkers int `env:"MIRROR_WORKERS" envDefault:"4"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RoundDuration <= 0 {
		return errors.New("ROUND_DURATION must be positive")
	}
	if c.DuelRounds <= 0 || c.TournamentRounds <= 0 {
		return errors.New("rounds per session must be positive")
	}
	if c.TournamentCapacity < 2 {
		return errors.New("TOURNAMENT_CAPACITY must be at least 2")
	}
	if c.TournamentMinPlayers < 2 || c.TournamentMinPlayers > c.TournamentCapacity {
		return fmt.Errorf("TOURNAMENT_MIN_PLAYERS must be within [2, %d]", c.TournamentCapacity)
	}
	if c.LobbyTimeout <= 0 || c.DuelChallengeTimeout <= 0 || c.DeliveryTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.MinStake <= 0 || c.MaxStake < c.MinStake {
		return errors.New("stake bounds are invalid")
	}
	if c.HouseFeePercent < 0 || c.HouseFeePercent >= 100 {
		return errors.New("HOUSE_FEE_PERCENT must be within [0, 100)")
	}
	sum := 0
	for _, s := range c.TournamentShares {
		if s < 0 {
			return errors.New("TOURNAMENT_SHARES must not be negative")
		}
		sum += s
	}
	if sum > 100 {
		return fmt.Errorf("TOURNAMENT_SHARES sum to %d, more than 100", sum)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
