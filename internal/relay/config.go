package relay

import "time"

type Config struct {
	Port string `env:"PORT" envDefault:":50051"`

	// Redis configuration
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"redis:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Undelivered messages expire after MailboxTTL; a mailbox holds at most
	// MailboxSize messages.
	MailboxTTL  time.Duration `env:"MAILBOX_TTL" envDefault:"10m"`
	MailboxSize int64         `env:"MAILBOX_SIZE" envDefault:"100"`

	// An identity counts as reachable for PresenceTTL after its last fetch.
	// Deliveries to unreachable identities are refused when RequirePresence
	// is set.
	PresenceTTL     time.Duration `env:"PRESENCE_TTL" envDefault:"2m"`
	RequirePresence bool          `env:"REQUIRE_PRESENCE" envDefault:"true"`
}
