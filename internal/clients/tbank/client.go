// Package tbank provides the T-Bank Invest API implementation of the
// brokerage gateway: a REST contract client plus a websocket stream client.
package tbank

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/pkg/money"
)

const (
	// apiPackage is the gRPC-transcoding package prefix of the REST contract.
	apiPackage = "tinkoff.public.invest.api.contract.v1"

	defaultTimeout = 30 * time.Second
)

// Client is the REST implementation of domain.BrokerageGateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// Assert the gateway contract at compile time.
var _ domain.BrokerageGateway = (*Client)(nil)

// NewClient creates a new T-Bank Invest REST client. The HTTP client is
// passed in explicitly so TLS configuration (custom CA bundles) stays a
// constructor concern, never a process-wide side effect.
func NewClient(baseURL string, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("client", "tbank").Logger(),
	}
}

// NewHTTPClient builds the outbound HTTP client, loading an optional PEM CA
// bundle for the brokerage endpoint. An empty path returns a default client.
func NewHTTPClient(caBundlePath string) (*http.Client, error) {
	if caBundlePath == "" {
		return &http.Client{Timeout: defaultTimeout}, nil
	}

	pem, err := os.ReadFile(caBundlePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CA bundle %q: %v", domain.ErrInvalidConfiguration, caBundlePath, err)
	}
	if len(bytes.TrimSpace(pem)) == 0 {
		return nil, fmt.Errorf("%w: CA bundle %q contains no certificate data", domain.ErrInvalidConfiguration, caBundlePath)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: CA bundle %q contains no parsable certificates", domain.ErrInvalidConfiguration, caBundlePath)
	}

	return &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}, nil
}

// callRest posts one method of the REST contract and decodes the response.
// Numbers are decoded as json.Number so string- and number-encoded
// units/nano parts survive intact.
func (c *Client) callRest(ctx context.Context, token, service, method string, body interface{}, out interface{}) error {
	url := fmt.Sprintf("%s/%s.%s/%s", c.baseURL, apiPackage, service, method)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s request: %w", service, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s/%s request: %w", service, method, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("service", service).Str("method", method).Msg("Calling Invest API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s/%s failed: %w", service, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s/%s response: %w", service, method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.RemoteAPIError{
			Status:  resp.StatusCode,
			Message: extractErrorMessage(raw),
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s/%s response: %w", service, method, err)
	}

	return nil
}

func extractErrorMessage(raw []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return ""
}

// ListAccounts returns the accounts visible to the token. Accounts without
// an id are dropped.
func (c *Client) ListAccounts(ctx context.Context, token string) ([]domain.AccountPreview, error) {
	var response getAccountsResponse
	if err := c.callRest(ctx, token, "UsersService", "GetAccounts", map[string]interface{}{}, &response); err != nil {
		return nil, err
	}

	accounts := make([]domain.AccountPreview, 0, len(response.Accounts))
	for _, account := range response.Accounts {
		id := ""
		if account.ID != nil {
			id = strings.TrimSpace(*account.ID)
		}
		if id == "" {
			continue
		}
		accounts = append(accounts, domain.AccountPreview{
			BrokerAccountID:   id,
			BrokerAccountType: account.Type,
			Name:              account.Name,
			Status:            account.Status,
			AccessLevel:       account.AccessLevel,
		})
	}

	return accounts, nil
}

// GetPortfolio returns the instrument positions of one account. Positions
// without a figi are malformed and skipped, not errors.
func (c *Client) GetPortfolio(ctx context.Context, token, accountID string) ([]domain.BrokerPosition, error) {
	var response portfolioResponse
	body := map[string]interface{}{"accountId": accountID}
	if err := c.callRest(ctx, token, "OperationsService", "GetPortfolio", body, &response); err != nil {
		return nil, err
	}

	positions := make([]domain.BrokerPosition, 0, len(response.Positions))
	for _, position := range response.Positions {
		if position.Figi == nil || *position.Figi == "" {
			c.log.Debug().Msg("Skipping portfolio position without figi")
			continue
		}
		positions = append(positions, domain.BrokerPosition{
			Figi:            *position.Figi,
			InstrumentType:  position.InstrumentType,
			Quantity:        position.Quantity.amount(),
			QuantityLots:    position.QuantityLots.amount(),
			AveragePrice:    position.AveragePositionPrice.amount(),
			CurrentPrice:    position.CurrentPrice.amount(),
			AverageCurrency: position.AveragePositionPrice.currency(),
			CurrentCurrency: position.CurrentPrice.currency(),
		})
	}

	return positions, nil
}

// GetPositions returns the cash balances of one account. Balances whose
// amount cannot be parsed are skipped.
func (c *Client) GetPositions(ctx context.Context, token, accountID string) ([]domain.MoneyBalance, error) {
	var response positionsResponse
	body := map[string]interface{}{"accountId": accountID}
	if err := c.callRest(ctx, token, "OperationsService", "GetPositions", body, &response); err != nil {
		return nil, err
	}

	balances := make([]domain.MoneyBalance, 0, len(response.Money))
	for i := range response.Money {
		value := &response.Money[i]
		amount := value.amount()
		if amount == nil {
			continue
		}
		currency := "RUB"
		if value.Currency != nil && *value.Currency != "" {
			currency = *value.Currency
		}
		balances = append(balances, domain.MoneyBalance{Currency: currency, Amount: *amount})
	}

	return balances, nil
}

// GetOperations returns the executed operations of one account in [from, to].
func (c *Client) GetOperations(ctx context.Context, token, accountID string, from, to time.Time) ([]domain.BrokerOperation, error) {
	var response operationsResponse
	body := map[string]interface{}{
		"accountId": accountID,
		"from":      from.UTC().Format(time.RFC3339),
		"to":        to.UTC().Format(time.RFC3339),
		"state":     "OPERATION_STATE_EXECUTED",
	}
	if err := c.callRest(ctx, token, "OperationsService", "GetOperations", body, &response); err != nil {
		return nil, err
	}

	operations := make([]domain.BrokerOperation, 0, len(response.Operations))
	for _, op := range response.Operations {
		operations = append(operations, domain.BrokerOperation{
			ID:              op.ID,
			Figi:            op.Figi,
			InstrumentType:  op.InstrumentType,
			Type:            op.Type,
			OperationType:   op.OperationType,
			State:           op.State,
			Payment:         op.Payment.amount(),
			PaymentCurrency: op.Payment.currency(),
			Price:           op.Price.amount(),
			Quantity:        money.ParseNumber(op.Quantity),
			QuantityRest:    money.ParseNumber(op.QuantityRest),
			Commission:      op.Commission.amount(),
			Currency:        op.Currency,
			Date:            parseDate(op.Date),
			Description:     op.Description,
		})
	}

	return operations, nil
}

// GetInstrumentMetadata resolves reference data for one figi.
func (c *Client) GetInstrumentMetadata(ctx context.Context, token, figi string) (*domain.InstrumentDetails, error) {
	var response instrumentResponse
	body := map[string]interface{}{
		"idType": "INSTRUMENT_ID_TYPE_FIGI",
		"id":     figi,
	}
	if err := c.callRest(ctx, token, "InstrumentsService", "GetInstrumentBy", body, &response); err != nil {
		return nil, err
	}

	instrument := response.Instrument
	if instrument == nil {
		return nil, nil
	}

	resolved := figi
	if instrument.Figi != nil && *instrument.Figi != "" {
		resolved = *instrument.Figi
	}

	return &domain.InstrumentDetails{
		Figi:           resolved,
		Ticker:         instrument.Ticker,
		Name:           instrument.Name,
		InstrumentType: instrument.InstrumentType,
		Lot:            money.ParseNumber(instrument.Lot),
		Currency:       instrument.Currency,
	}, nil
}
