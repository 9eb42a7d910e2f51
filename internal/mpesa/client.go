// Package mpesa talks to the Safaricom Daraja API: OAuth token issuance, STK
// push initiation and STK status queries. All transport goes through a
// circuit breaker so a dead gateway fails fast instead of tying up request
// workers.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/uzimacare/uzimacare-backend/internal/config"
)

// StillProcessingCode is the Daraja result code meaning the STK prompt is
// still open on the payer's phone. It is the only non-terminal query result.
const StillProcessingCode = "1032"

// GatewayError carries the provider-reported code and description for a
// failed gateway interaction.
type GatewayError struct {
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway error %s: %s", e.Code, e.Description)
}

// StkPushRequest is the merchant-side view of one STK push.
type StkPushRequest struct {
	PhoneNumber string
	Amount      int64
	AccountRef  string
	Description string
}

// StkPushResponse returns the gateway correlation ids. CheckoutRequestID is
// the key the asynchronous callback will present.
type StkPushResponse struct {
	CheckoutRequestID string
	MerchantRequestID string
}

// StkQueryResponse is the polled status of an outstanding STK push.
type StkQueryResponse struct {
	ResultCode string
	ResultDesc string
}

// Gateway is the surface the payment orchestrator consumes.
type Gateway interface {
	InitiateStkPush(ctx context.Context, req StkPushRequest) (*StkPushResponse, error)
	QueryStkStatus(ctx context.Context, checkoutRequestID string) (*StkQueryResponse, error)
}

// eat is East African Time. Daraja rejects passwords built from timestamps in
// any other zone.
var eat = time.FixedZone("EAT", 3*60*60)

type httpResult struct {
	status int
	body   []byte
}

type Client struct {
	cfg  config.DarajaConfig
	http *http.Client
	cb   *gobreaker.CircuitBreaker[httpResult]
	log  zerolog.Logger
}

func NewClient(cfg config.DarajaConfig, log zerolog.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker[httpResult](gobreaker.Settings{
		Name:    "daraja",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		cb:   cb,
		log:  log.With().Str("component", "mpesa").Logger(),
	}
}

// InitiateStkPush performs the two sequential gateway calls: OAuth token,
// then the STK push itself.
func (c *Client) InitiateStkPush(ctx context.Context, req StkPushRequest) (*StkPushResponse, error) {
	token, err := c.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().In(eat).Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount,
		"PartyA":            req.PhoneNumber,
		"PartyB":            c.cfg.Shortcode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountRef,
		"TransactionDesc":   req.Description,
	}

	var resp struct {
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		MerchantRequestID   string `json:"MerchantRequestID"`
		CustomerMessage     string `json:"CustomerMessage"`
		ErrorCode           string `json:"errorCode"`
		ErrorMessage        string `json:"errorMessage"`
	}
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &resp); err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		code := resp.ErrorCode
		if code == "" {
			code = resp.ResponseCode
		}
		desc := resp.ErrorMessage
		if desc == "" {
			desc = resp.ResponseDescription
		}
		if desc == "" {
			desc = resp.CustomerMessage
		}
		return nil, &GatewayError{Code: code, Description: desc}
	}

	c.log.Info().
		Str("checkout_request_id", resp.CheckoutRequestID).
		Str("phone", req.PhoneNumber).
		Int64("amount", req.Amount).
		Msg("stk push accepted by gateway")

	return &StkPushResponse{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
	}, nil
}

// QueryStkStatus polls the gateway for the outcome of an outstanding STK
// push.
func (c *Client) QueryStkStatus(ctx context.Context, checkoutRequestID string) (*StkQueryResponse, error) {
	token, err := c.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().In(eat).Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var resp struct {
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &resp); err != nil {
		return nil, err
	}

	if resp.ErrorCode != "" {
		return nil, &GatewayError{Code: resp.ErrorCode, Description: resp.ErrorMessage}
	}

	return &StkQueryResponse{
		ResultCode: resp.ResultCode,
		ResultDesc: resp.ResultDesc,
	}, nil
}

// ParseTimestamp parses the numeric yyyymmddhhmmss timestamps Daraja puts in
// callback metadata. They are always East African local time.
func ParseTimestamp(v int64) (time.Time, error) {
	return time.ParseInLocation("20060102150405", strconv.FormatInt(v, 10), eat)
}

// password derives the Daraja API password for a given timestamp.
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	res, err := c.do(req)
	if err != nil {
		return "", &GatewayError{Code: "TRANSPORT", Description: err.Error()}
	}
	if res.status != http.StatusOK {
		return "", &GatewayError{
			Code:        fmt.Sprintf("OAUTH_%d", res.status),
			Description: "oauth token request failed",
		}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(res.body, &tok); err != nil || tok.AccessToken == "" {
		return "", &GatewayError{Code: "OAUTH", Description: "no access token in response"}
	}

	return tok.AccessToken, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.do(req)
	if err != nil {
		return &GatewayError{Code: "TRANSPORT", Description: err.Error()}
	}

	if err := json.Unmarshal(res.body, out); err != nil {
		return &GatewayError{
			Code:        fmt.Sprintf("HTTP_%d", res.status),
			Description: "unparseable gateway response",
		}
	}

	return nil
}

// do runs one HTTP exchange through the circuit breaker. Only transport
// failures and 5xx responses count against the breaker; gateway-reported
// business errors come back as normal responses.
func (c *Client) do(req *http.Request) (httpResult, error) {
	return c.cb.Execute(func() (httpResult, error) {
		res, err := c.http.Do(req)
		if err != nil {
			return httpResult{}, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return httpResult{}, err
		}
		if res.StatusCode >= 500 {
			return httpResult{}, fmt.Errorf("gateway returned %d", res.StatusCode)
		}

		return httpResult{status: res.StatusCode, body: body}, nil
	})
}
