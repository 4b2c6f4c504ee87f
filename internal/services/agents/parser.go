package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"TPMForge/pkg/util"
)

// Built-in source kinds.
const (
	KindKraken    = "kraken"
	KindBinance   = "binance"
	KindCoinGecko = "coingecko"
	KindOpenMeteo = "open_meteo"
	KindScalar    = "scalar"
)

var (
	ErrUnknownKind = errors.New("agents: unknown source kind")
	ErrKindExists  = errors.New("agents: source kind already registered")
	ErrNoValue     = errors.New("agents: payload carries no value")
)

// ParseFunc extracts one reading from a raw response body.
type ParseFunc func(body []byte) (float64, error)

// Registry maps a source kind to its payload parser.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]ParseFunc
}

// NewRegistry returns a registry with the built-in kinds.
func NewRegistry() *Registry {
	return &Registry{parsers: map[string]ParseFunc{
		KindKraken:    parseKraken,
		KindBinance:   parseBinance,
		KindCoinGecko: parseCoinGecko,
		KindOpenMeteo: parseOpenMeteo,
		KindScalar:    parseScalar,
	}}
}

// Register adds a new kind. Existing kinds cannot be replaced.
func (r *Registry) Register(kind string, fn ParseFunc) error {
	if kind == "" || fn == nil {
		return fmt.Errorf("agents: register: empty kind or parser")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parsers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrKindExists, kind)
	}
	r.parsers[kind] = fn
	return nil
}

// Has reports whether kind is known.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[kind]
	return ok
}

// Kinds lists registered kinds in order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for k := range r.parsers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Parse decodes body with the parser for kind.
func (r *Registry) Parse(kind string, body []byte) (float64, error) {
	r.mu.RLock()
	fn, ok := r.parsers[kind]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	v, err := fn(body)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", kind, err)
	}
	return v, nil
}

// number accepts JSON numbers and numeric strings.
func number(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, ErrNoValue
	}
	v, ok := util.ParseFloat(string(raw))
	if !ok {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return v, nil
}

// Kraken OHLC: result.<pair> is a list of
// [time, open, high, low, close, vwap, volume, count]; the reading is the
// close of the last row.
func parseKraken(body []byte) (float64, error) {
	var payload struct {
		Error  []string                   `json:"error"`
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	if len(payload.Error) > 0 {
		return 0, fmt.Errorf("kraken error: %v", payload.Error)
	}

	raw, ok := payload.Result["XXBTZUSD"]
	if !ok {
		pairs := make([]string, 0, len(payload.Result))
		for k := range payload.Result {
			if k != "last" {
				pairs = append(pairs, k)
			}
		}
		if len(pairs) == 0 {
			return 0, ErrNoValue
		}
		sort.Strings(pairs)
		raw = payload.Result[pairs[0]]
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[len(rows)-1]) < 5 {
		return 0, ErrNoValue
	}
	return number(rows[len(rows)-1][4])
}

func parseBinance(body []byte) (float64, error) {
	var payload struct {
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	return number(payload.Price)
}

// CoinGecko simple price: {"bitcoin":{"usd":...}}. Other coin ids are
// accepted when bitcoin is absent.
func parseCoinGecko(body []byte) (float64, error) {
	var payload map[string]map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	if coin, ok := payload["bitcoin"]; ok {
		return number(coin["usd"])
	}
	ids := make([]string, 0, len(payload))
	for id := range payload {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, ErrNoValue
	}
	sort.Strings(ids)
	return number(payload[ids[0]]["usd"])
}

func parseOpenMeteo(body []byte) (float64, error) {
	var payload struct {
		Current struct {
			Temperature json.RawMessage `json:"temperature_2m"`
		} `json:"current"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	return number(payload.Current.Temperature)
}

// parseScalar reads a bare number or {"value": n}.
func parseScalar(body []byte) (float64, error) {
	if v, err := number(body); err == nil {
		return v, nil
	}
	var payload struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	return number(payload.Value)
}
