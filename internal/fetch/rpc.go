package fetch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/log"
	"github.com/zjrosen/metaportal/internal/tracing"
)

// defaultSS58 is the generic Substrate address prefix used when a node does
// not report one.
const defaultSS58 = 42

// DefaultRPCTimeout bounds a whole session with one endpoint.
const DefaultRPCTimeout = 30 * time.Second

// RPC fetches from Substrate nodes over websocket JSON-RPC. Endpoints of a
// chain are tried in configuration order until one answers.
type RPC struct {
	Dialer  *websocket.Dialer
	Timeout time.Duration
}

// NewRPC returns an RPC fetcher with default dialer and timeout.
func NewRPC() *RPC {
	return &RPC{Dialer: websocket.DefaultDialer, Timeout: DefaultRPCTimeout}
}

var _ Fetcher = (*RPC)(nil)

// FetchSpecs implements Fetcher.
func (r *RPC) FetchSpecs(ctx context.Context, chain config.Chain) (ChainSpecs, error) {
	var specs ChainSpecs
	err := r.eachEndpoint(ctx, chain, func(c *rpcConn) error {
		var err error
		specs, err = fetchSpecs(c, chain)
		return err
	})
	return specs, err
}

// FetchMetadata implements Fetcher.
func (r *RPC) FetchMetadata(ctx context.Context, chain config.Chain) (Metadata, error) {
	var meta Metadata
	err := r.eachEndpoint(ctx, chain, func(c *rpcConn) error {
		var err error
		meta, err = fetchMetadata(c)
		return err
	})
	return meta, err
}

func (r *RPC) eachEndpoint(ctx context.Context, chain config.Chain, fn func(*rpcConn) error) error {
	if len(chain.RPCEndpoints) == 0 {
		return &Error{Chain: chain.Name, Err: ErrNoEndpoint}
	}
	var errs []error
	for _, endpoint := range chain.RPCEndpoints {
		err := r.withConn(ctx, endpoint, fn)
		if err == nil {
			return nil
		}
		log.Warn(log.CatFetch, "endpoint failed", "chain", chain.Name, "endpoint", endpoint, "error", err)
		errs = append(errs, &Error{Chain: chain.Name, Endpoint: endpoint, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (r *RPC) withConn(ctx context.Context, endpoint string, fn func(*rpcConn) error) (err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanFetchChain, attribute.String(tracing.AttrEndpoint, endpoint))
	defer func() { tracing.Finish(span, err) }()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := r.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
		_ = ws.SetWriteDeadline(deadline)
	}
	return fn(&rpcConn{ws: ws})
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcConn issues sequential calls on one websocket. Notifications and
// responses to other ids are skipped.
type rpcConn struct {
	ws     *websocket.Conn
	nextID uint64
}

func (c *rpcConn) call(method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	c.nextID++
	id := c.nextID
	if err := c.ws.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%s: write: %w", method, err)
	}
	for {
		var resp rpcResponse
		if err := c.ws.ReadJSON(&resp); err != nil {
			return fmt.Errorf("%s: read: %w", method, err)
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

type runtimeVersion struct {
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

// systemProperties holds the loosely typed answer of system_properties.
// Token fields are either scalars or arrays depending on the chain.
type systemProperties struct {
	SS58Format    *uint16         `json:"ss58Format"`
	TokenDecimals json.RawMessage `json:"tokenDecimals"`
	TokenSymbol   json.RawMessage `json:"tokenSymbol"`
}

func fetchSpecs(c *rpcConn, chain config.Chain) (ChainSpecs, error) {
	var genesis string
	if err := c.call("chain_getBlockHash", &genesis, 0); err != nil {
		return ChainSpecs{}, err
	}
	var props systemProperties
	if err := c.call("system_properties", &props); err != nil {
		return ChainSpecs{}, err
	}
	var title string
	if err := c.call("system_chain", &title); err != nil {
		return ChainSpecs{}, err
	}
	var rv runtimeVersion
	if err := c.call("state_getRuntimeVersion", &rv); err != nil {
		return ChainSpecs{}, err
	}

	unit, decimals, err := interpretToken(props, chain)
	if err != nil {
		return ChainSpecs{}, err
	}
	prefix := uint16(defaultSS58)
	if props.SS58Format != nil {
		prefix = *props.SS58Format
	}

	return ChainSpecs{
		Name:         rv.SpecName,
		Title:        title,
		Base58Prefix: prefix,
		Decimals:     decimals,
		Unit:         unit,
		GenesisHash:  strings.ToLower(genesis),
		Logo:         rv.SpecName,
	}, nil
}

// interpretToken picks unit and decimals. A configured override wins; a node
// advertising several tokens needs one.
func interpretToken(props systemProperties, chain config.Chain) (string, uint8, error) {
	if chain.TokenUnit != "" && chain.TokenDecimals != nil {
		return chain.TokenUnit, *chain.TokenDecimals, nil
	}

	symbols, err := scalarOrList[string](props.TokenSymbol)
	if err != nil {
		return "", 0, fmt.Errorf("tokenSymbol: %w", err)
	}
	decimals, err := scalarOrList[uint8](props.TokenDecimals)
	if err != nil {
		return "", 0, fmt.Errorf("tokenDecimals: %w", err)
	}
	switch {
	case len(symbols) == 0 && len(decimals) == 0:
		return "UNIT", 0, nil
	case len(symbols) == 1 && len(decimals) == 1:
		return symbols[0], decimals[0], nil
	default:
		return "", 0, fmt.Errorf("node reports %d tokens; set token_unit and token_decimals for %s", len(symbols), chain.Name)
	}
}

func scalarOrList[T any](raw json.RawMessage) ([]T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err == nil {
		return []T{one}, nil
	}
	var many []T
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

func fetchMetadata(c *rpcConn) (Metadata, error) {
	var genesis, head string
	if err := c.call("chain_getBlockHash", &genesis, 0); err != nil {
		return Metadata{}, err
	}
	if err := c.call("chain_getBlockHash", &head); err != nil {
		return Metadata{}, err
	}
	var rv runtimeVersion
	if err := c.call("state_getRuntimeVersion", &rv, head); err != nil {
		return Metadata{}, err
	}
	var metaHex string
	if err := c.call("state_getMetadata", &metaHex, head); err != nil {
		return Metadata{}, err
	}
	meta, err := hex.DecodeString(strings.TrimPrefix(metaHex, "0x"))
	if err != nil {
		return Metadata{}, fmt.Errorf("state_getMetadata: %w", err)
	}
	return Metadata{
		Version:     rv.SpecVersion,
		Meta:        meta,
		BlockHash:   strings.ToLower(head),
		GenesisHash: strings.ToLower(genesis),
	}, nil
}
