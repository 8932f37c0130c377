package config

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Worker   *workerConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"fortify"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address        string `envconfig:"FORTIFY_ADDRESS" default:":3443"`
	MetricsAddress string `envconfig:"FORTIFY_METRICS_ADDRESS" default:":8080"`
	BaseUrl        string `envconfig:"FORTIFY_BASE_URL" default:"https://localhost:3443"`
	LogLevel       string `envconfig:"FORTIFY_LOG_LEVEL" default:"info"`
	Kafka          kafkaConfig
	Auth           Auth
}

// workerConfig points at the external scan/fix worker. The start call is
// fire-and-forget; the cancel signal is best effort and bounded by
// CancelTimeout.
type workerConfig struct {
	BaseUrl       string        `envconfig:"FORTIFY_WORKER_URL" default:"http://localhost:8000"`
	CancelTimeout time.Duration `envconfig:"FORTIFY_WORKER_CANCEL_TIMEOUT" default:"3s"`
	StartTimeout  time.Duration `envconfig:"FORTIFY_WORKER_START_TIMEOUT" default:"5s"`
}

type kafkaConfig struct {
	Brokers  []string `envconfig:"FORTIFY_KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"FORTIFY_KAFKA_TOPIC" default:"fortify.jobs"`
	Version  string   `envconfig:"FORTIFY_KAFKA_VERSION" default:""`
	ClientID string   `envconfig:"FORTIFY_KAFKA_CLIENT_ID" default:"fortify-api"`

	SaramaConfig *sarama.Config
}

type Auth struct {
	AuthenticationType string `envconfig:"FORTIFY_AUTH" default:""`
	LocalPrivateKey    string `envconfig:"FORTIFY_PRIVATE_KEY" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}
