package internal

import "time"

type Config struct {
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	TypingTimeout     time.Duration `env:"TYPING_TIMEOUT,default=8s"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	TokenSecret       string        `env:"TOKEN_SECRET,required=true"`
}
