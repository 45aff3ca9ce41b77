package qpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"studyroom-backend/internal/config"
	"studyroom-backend/internal/logger"
)

var (
	// ErrGatewayUnavailable covers transport failures, timeouts and 5xx
	// responses. Callers may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentRejected covers 4xx responses other than auth expiry.
	// Retrying the same request will not help.
	ErrPaymentRejected = errors.New("payment gateway rejected request")
)

// tokenRefreshMargin refreshes the cached token slightly before the gateway
// expires it so in-flight requests never race the expiry.
const tokenRefreshMargin = 30 * time.Second

type Invoice struct {
	InvoiceID    string `json:"invoice_id"`
	QRText       string `json:"qr_text"`
	QRImage      string `json:"qr_image"`
	ShortURL     string `json:"qPay_shortUrl"`
	DeeplinkURLs []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Link        string `json:"link"`
	} `json:"urls"`
}

// CheckResult is the gateway's view of an invoice. Status values are the
// gateway's: NEW, PAID, CANCELLED, FAILED.
type CheckResult struct {
	Status    string
	PaymentID string
}

const (
	StatusNew       = "NEW"
	StatusPaid      = "PAID"
	StatusCancelled = "CANCELLED"
	StatusFailed    = "FAILED"
)

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	callbackURL  string
	invoiceCode  string
	httpClient   *http.Client
	log          *logger.Logger
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg config.QPayConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		callbackURL:  cfg.CallbackURL,
		invoiceCode:  cfg.InvoiceCode,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		log:          log,
		now:          time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("QPAY", fmt.Sprintf("Token request failed: %v", err))
		return "", ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Error("QPAY", fmt.Sprintf("Token request returned %d: %s", resp.StatusCode, body))
		if resp.StatusCode >= 500 {
			return "", ErrGatewayUnavailable
		}
		return "", ErrPaymentRejected
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", ErrGatewayUnavailable
	}
	if tok.AccessToken == "" {
		return "", ErrGatewayUnavailable
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.log.Debug("QPAY", "Gateway token refreshed")
	return c.token, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("QPAY", fmt.Sprintf("%s %s failed: %v", method, path, err))
		return ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateToken()
		return ErrGatewayUnavailable
	case resp.StatusCode >= 500:
		c.log.Error("QPAY", fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode))
		return ErrGatewayUnavailable
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("QPAY", fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, raw))
		return ErrPaymentRejected
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return ErrGatewayUnavailable
		}
	}
	return nil
}

type createInvoiceRequest struct {
	InvoiceCode         string  `json:"invoice_code"`
	SenderInvoiceNo     string  `json:"sender_invoice_no"`
	InvoiceReceiverCode string  `json:"invoice_receiver_code"`
	InvoiceDescription  string  `json:"invoice_description"`
	Amount              float64 `json:"amount"`
	CallbackURL         string  `json:"callback_url"`
}

// CreateInvoice registers an invoice for the given payment reference and
// returns the QR payload the client app renders.
func (c *Client) CreateInvoice(ctx context.Context, paymentRef string, amount float64, description string) (*Invoice, error) {
	payload := createInvoiceRequest{
		InvoiceCode:         c.invoiceCode,
		SenderInvoiceNo:     paymentRef,
		InvoiceReceiverCode: "terminal",
		InvoiceDescription:  description,
		Amount:              amount,
		CallbackURL:         fmt.Sprintf("%s?payment_id=%s", c.callbackURL, paymentRef),
	}

	var invoice Invoice
	if err := c.doJSON(ctx, http.MethodPost, "/invoice", payload, &invoice); err != nil {
		return nil, err
	}
	c.log.LogPayment("INVOICE", paymentRef, fmt.Sprintf("Gateway invoice %s created for %.2f", invoice.InvoiceID, amount))
	return &invoice, nil
}

type checkPaymentRequest struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	Offset     struct {
		PageNumber int `json:"page_number"`
		PageLimit  int `json:"page_limit"`
	} `json:"offset"`
}

type checkPaymentResponse struct {
	Count int `json:"count"`
	Rows  []struct {
		PaymentID     string `json:"payment_id"`
		PaymentStatus string `json:"payment_status"`
	} `json:"rows"`
}

// CheckPayment asks the gateway for the current state of an invoice. An
// invoice with no payment rows yet reports StatusNew.
func (c *Client) CheckPayment(ctx context.Context, invoiceID string) (*CheckResult, error) {
	payload := checkPaymentRequest{
		ObjectType: "INVOICE",
		ObjectID:   invoiceID,
	}
	payload.Offset.PageNumber = 1
	payload.Offset.PageLimit = 1

	var resp checkPaymentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/payment/check", payload, &resp); err != nil {
		return nil, err
	}

	if len(resp.Rows) == 0 {
		return &CheckResult{Status: StatusNew}, nil
	}
	row := resp.Rows[0]
	return &CheckResult{Status: row.PaymentStatus, PaymentID: row.PaymentID}, nil
}

// CancelInvoice voids an unpaid invoice at the gateway.
func (c *Client) CancelInvoice(ctx context.Context, invoiceID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/invoice/"+invoiceID, nil, nil); err != nil {
		return err
	}
	c.log.LogPayment("INVOICE", invoiceID, "Gateway invoice cancelled")
	return nil
}

// Refund returns a settled payment to the payer.
func (c *Client) Refund(ctx context.Context, externalPaymentID, note string) error {
	var payload interface{}
	if note != "" {
		payload = map[string]string{"note": note}
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/payment/refund/"+externalPaymentID, payload, nil); err != nil {
		return err
	}
	c.log.LogPayment("REFUND", externalPaymentID, "Gateway refund accepted")
	return nil
}
