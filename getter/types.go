package getter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

// BlockGetter reads source chain blocks and exposes its own collectors.
type BlockGetter interface {
	checkpoint.SourceChainReader
	Collectors() []prometheus.Collector
	Close() error
}

type DatabaseConfig struct {
	Host     string `json:"host" toml:"host"`
	User     string `json:"user" toml:"user"`
	Password string `json:"password" toml:"password"`
	DBname   string `json:"dbname" toml:"dbname"`
	Port     string `json:"port" toml:"port"`
}

func newNetworkErrors() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "source_network_errors",
		Help: "Number of failed requests to the source chain.",
	})
}
