package getter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

const DefaultRPCTimeout = 10 * time.Second

type RPCConfig struct {
	URL      string `json:"url" toml:"url"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	Timeout  string `json:"timeout" toml:"timeout"`
}

// RPCGetter reads blocks from a node speaking the Bitcoin Core JSON-RPC API.
type RPCGetter struct {
	client        *rpcclient.Client
	timeout       time.Duration
	networkErrors prometheus.Counter
}

var _ BlockGetter = (*RPCGetter)(nil)

func NewRPCGetter(config RPCConfig) (*RPCGetter, error) {
	endpoint, err := url.Parse(config.URL)
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid source rpc url %q", config.URL)
	}
	connCfg := &rpcclient.ConnConfig{
		Host:         endpoint.Host + endpoint.Path,
		User:         config.Username,
		Pass:         config.Password,
		HTTPPostMode: true, // Bitcoin core only supports HTTP POST mode
		DisableTLS:   endpoint.Scheme != "https",
	}
	// Notifications are not supported in HTTP POST mode.
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil || timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &RPCGetter{
		client:        client,
		timeout:       timeout,
		networkErrors: newNetworkErrors(),
	}, nil
}

func (r *RPCGetter) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.networkErrors}
}

func (r *RPCGetter) Close() error {
	r.client.Shutdown()
	return nil
}

func (r *RPCGetter) LatestBlock(ctx context.Context) (checkpoint.Block, error) {
	count, err := await(ctx, r.timeout, r.client.GetBlockCountAsync().Receive)
	if err != nil {
		return checkpoint.Block{}, r.classify("getblockcount", err)
	}
	if count < 0 || count > math.MaxUint32 {
		return checkpoint.Block{}, checkpoint.Errorf(checkpoint.KindOther, "block height %d does not fit in u32", count)
	}

	block, found, err := r.BlockAtHeight(ctx, uint32(count))
	if err != nil {
		return checkpoint.Block{}, err
	}
	if !found {
		return checkpoint.Block{}, checkpoint.Errorf(checkpoint.KindOther, "latest block %d disappeared", count)
	}
	return block, nil
}

func (r *RPCGetter) BlockAtHeight(ctx context.Context, height uint32) (checkpoint.Block, bool, error) {
	hash, err := await(ctx, r.timeout, r.client.GetBlockHashAsync(int64(height)).Receive)
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCInvalidParameter {
		return checkpoint.Block{}, false, nil
	}
	if err != nil {
		return checkpoint.Block{}, false, r.classify("getblockhash", err)
	}

	parsed, err := checkpoint.ParseBlockHash(hash.String())
	if err != nil {
		return checkpoint.Block{}, false, checkpoint.OtherError(fmt.Errorf("block %d: %w", height, err))
	}
	return checkpoint.Block{Height: height, Hash: parsed}, true, nil
}

// classify maps node-side errors to Other. Everything else failed on the way
// to or from the node.
func (r *RPCGetter) classify(method string, err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return checkpoint.OtherError(fmt.Errorf("%s: %w", method, err))
	}
	r.networkErrors.Inc()
	return checkpoint.NetworkError(fmt.Errorf("%s: %w", method, err))
}

// await bounds a pending rpcclient future by ctx and the request timeout.
func await[T any](ctx context.Context, timeout time.Duration, receive func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		value, err := receive()
		done <- result{value, err}
	}()
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
