package wsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
)

// Methods understood by the bridge
const (
	methodHello             = "hello"
	methodQualify           = "qualify"
	methodOptionParams      = "option_params"
	methodSubscribe         = "subscribe"
	methodCancel            = "cancel"
	methodHistoricalBars    = "historical_bars"
	methodSetMarketDataType = "set_market_data_type"
	methodCurrentTime       = "current_time"
	methodTicker            = "ticker" // server push
)

// request is a client -> bridge frame
type request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// frame is any bridge -> client frame (response or push)
type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

// wireError is the bridge error object
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// err maps bridge error codes onto the pipeline taxonomy
func (e *wireError) err(method string) error {
	var base error
	switch e.Code {
	case "connection", "unavailable", "not_connected":
		base = contracts.ErrGatewayUnavailable
	case "timeout":
		base = contracts.ErrTimeout
	case "not_found", "refused", "no_permission":
		base = contracts.ErrSubscriptionFailed
	case "no_book":
		base = contracts.ErrNoBook
	default:
		return fmt.Errorf("%s: bridge error %s: %s", method, e.Code, e.Message)
	}
	return fmt.Errorf("%s: %s: %w", method, e.Message, base)
}

type helloParams struct {
	ClientID int `json:"client_id"`
}

type contractPayload struct {
	Contract contracts.OptionContract `json:"contract"`
}

type optionParamsRequest struct {
	Symbol       string `json:"symbol"`
	UnderlyingID int64  `json:"underlying_id"`
}

type optionParamsResult struct {
	Params []gateway.OptionParams `json:"params"`
}

type subscribeRequest struct {
	Contract     contracts.OptionContract `json:"contract"`
	GenericTicks string                   `json:"generic_ticks"`
}

type subscribeResult struct {
	SubID string `json:"sub_id"`
}

type cancelRequest struct {
	SubID string `json:"sub_id"`
}

type barsResult struct {
	Bars []gateway.Bar `json:"bars"`
}

type marketDataTypeRequest struct {
	Type int `json:"type"`
}

type currentTimeResult struct {
	Time time.Time `json:"time"`
}

// tickerPush is the payload of a "ticker" push
type tickerPush struct {
	SubID string `json:"sub_id"`
	gateway.Ticker
}
