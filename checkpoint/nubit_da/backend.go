package nubit_da

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rollkit/go-da"
	"github.com/rollkit/go-da/proxy"
)

const (
	// NamespaceSize is the size of the hex encoded namespace string
	NamespaceSize = 29 * 2
	// Default namespace for fuel block checkpoints
	DefaultNamespace = "fuel-ckpt"
	// Default local deployed Nubit Node
	DefaultNodeRPC       = "http://localhost:26658"
	DefaultFetchTimeout  = time.Minute
	DefaultSubmitTimeout = time.Minute
	DefaultPollInterval  = 6 * time.Second
	// Let the node pick the gas price
	DefaultGasPrice = -1
)

// Client is the part of the DA node API the committer relies on.
type Client interface {
	MaxBlobSize(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, blobs []da.Blob, gasPrice float64, namespace da.Namespace) ([]da.ID, error)
	GetIDs(ctx context.Context, height uint64, namespace da.Namespace) ([]da.ID, error)
	Get(ctx context.Context, ids []da.ID, namespace da.Namespace) ([]da.Blob, error)
}

var _ Client = da.DA(nil)

type Config struct {
	RPC           string  `json:"rpc" toml:"rpc"`
	AuthToken     string  `json:"authToken" toml:"authToken"`
	Namespace     string  `json:"namespace" toml:"namespace"`
	FetchTimeout  string  `json:"fetchTimeout" toml:"fetchTimeout"`
	SubmitTimeout string  `json:"submitTimeout" toml:"submitTimeout"`
	PollInterval  string  `json:"pollInterval" toml:"pollInterval"`
	GasPrice      float64 `json:"gasPrice" toml:"gasPrice"`
}

type NubitDABackend struct {
	Client        Client
	FetchTimeout  time.Duration
	SubmitTimeout time.Duration
	PollInterval  time.Duration
	GasPrice      float64
	Namespace     da.Namespace
}

func NewNubitDABackend(config Config) (*NubitDABackend, error) {
	rpc := config.RPC
	if rpc == "" {
		rpc = DefaultNodeRPC
	}
	client, err := proxy.NewClient(rpc, config.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Nubit DA at %s: %w", rpc, err)
	}
	return NewNubitDABackendWithClient(client, config)
}

// NewNubitDABackendWithClient builds a backend on an already connected client.
func NewNubitDABackendWithClient(client Client, config Config) (*NubitDABackend, error) {
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if !IsValidNamespaceID(namespace) {
		return nil, fmt.Errorf("invalid namespace %q", namespace)
	}
	ns, err := hex.DecodeString(padNamespaceLeft(hex.EncodeToString([]byte(namespace))))
	if err != nil {
		return nil, err
	}

	gasPrice := config.GasPrice
	if gasPrice == 0 {
		gasPrice = DefaultGasPrice
	}

	return &NubitDABackend{
		Client:        client,
		FetchTimeout:  parseDuration(config.FetchTimeout, DefaultFetchTimeout),
		SubmitTimeout: parseDuration(config.SubmitTimeout, DefaultSubmitTimeout),
		PollInterval:  parseDuration(config.PollInterval, DefaultPollInterval),
		GasPrice:      gasPrice,
		Namespace:     ns,
	}, nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func IsValidNamespaceID(nID string) bool {
	if len(nID) > 10 {
		return false
	}
	byteData := []byte(nID)
	hexString := hex.EncodeToString(byteData)
	return len(hexString) <= NamespaceSize
}

func padNamespaceLeft(s string) string {
	currentLength := len(s)
	if currentLength < NamespaceSize {
		return strings.Repeat("0", NamespaceSize-currentLength) + s
	}
	return s
}
