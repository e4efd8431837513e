package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Host     string `env:"TSQ_HOST,default=localhost"`
	Port     int    `env:"TSQ_PORT,default=10011"`
	User     string `env:"TSQ_USER"`
	Password string `env:"TSQ_PASSWORD"`

	// ServerID is the virtual server selected after login. 0 leaves the
	// session unselected.
	ServerID int `env:"TSQ_SERVER_ID"`

	Debug bool `env:"TSQ_DEBUG"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
