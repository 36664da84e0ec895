package ledger

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Endpoint bundles the clients sharing one JSON-RPC connection.
type Endpoint struct {
	RPC  *rpc.Client
	Eth  *ethclient.Client
	Geth *gethclient.Client
}

// Dial connects to url using httpClient for HTTP transports.
func Dial(ctx context.Context, url string, httpClient *http.Client) (*Endpoint, error) {
	var opts []rpc.ClientOption
	if httpClient != nil {
		opts = append(opts, rpc.WithHTTPClient(httpClient))
	}
	c, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Endpoint{
		RPC:  c,
		Eth:  ethclient.NewClient(c),
		Geth: gethclient.New(c),
	}, nil
}

func (e *Endpoint) Close() {
	e.RPC.Close()
}
