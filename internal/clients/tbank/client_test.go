package tbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametelin/finwatch/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client(), zerolog.Nop())
}

func TestListAccounts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tinkoff.public.invest.api.contract.v1.UsersService/GetAccounts", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"accounts":[
			{"id":" acc-1 ","type":"Tinkoff","name":"Main"},
			{"id":"","type":"Broken"},
			{"id":"acc-2"}
		]}`))
	})

	accounts, err := client.ListAccounts(context.Background(), "test-token")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acc-1", accounts[0].BrokerAccountID)
	require.NotNil(t, accounts[0].BrokerAccountType)
	assert.Equal(t, "Tinkoff", *accounts[0].BrokerAccountType)
	assert.Equal(t, "acc-2", accounts[1].BrokerAccountID)
}

func TestGetPortfolioParsesMixedNumericEncodings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"positions":[
			{"figi":"BBG000B9XRY4","instrumentType":"share",
			 "quantity":{"units":"10","nano":0},
			 "averagePositionPrice":{"currency":"USD","units":150,"nano":250000000},
			 "currentPrice":{"currency":"USD","units":"155","nano":"500000000"}},
			{"instrumentType":"share","quantity":{"units":1,"nano":0}}
		]}`))
	})

	positions, err := client.GetPortfolio(context.Background(), "t", "acc-1")
	require.NoError(t, err)
	require.Len(t, positions, 1, "figi-less position must be skipped")

	pos := positions[0]
	assert.Equal(t, "BBG000B9XRY4", pos.Figi)
	require.NotNil(t, pos.Quantity)
	assert.InDelta(t, 10.0, *pos.Quantity, 1e-12)
	require.NotNil(t, pos.AveragePrice)
	assert.InDelta(t, 150.25, *pos.AveragePrice, 1e-12)
	require.NotNil(t, pos.CurrentPrice)
	assert.InDelta(t, 155.5, *pos.CurrentPrice, 1e-12)
	require.NotNil(t, pos.Currency())
	assert.Equal(t, "USD", *pos.Currency())
}

func TestGetPositionsSkipsUnparsableBalances(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"money":[
			{"currency":"RUB","units":"1000","nano":500000000},
			{"currency":"USD"},
			{"units":25,"nano":0}
		]}`))
	})

	balances, err := client.GetPositions(context.Background(), "t", "acc-1")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "RUB", balances[0].Currency)
	assert.InDelta(t, 1000.5, balances[0].Amount, 1e-12)
	// Missing currency falls back to RUB.
	assert.Equal(t, "RUB", balances[1].Currency)
	assert.InDelta(t, 25.0, balances[1].Amount, 1e-12)
}

func TestGetOperationsRequestWindowAndParsing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tinkoff.public.invest.api.contract.v1.OperationsService/GetOperations", r.URL.Path)
		_, _ = w.Write([]byte(`{"operations":[
			{"id":"op-1","state":"OPERATION_STATE_EXECUTED",
			 "operationType":"OPERATION_TYPE_BUY","figi":"BBG000B9XRY4",
			 "payment":{"currency":"USD","units":-1500,"nano":-250000000},
			 "quantity":"10","quantityRest":"2",
			 "date":"2024-03-05T10:15:00.123Z"},
			{"id":"op-2","date":"not-a-date"}
		]}`))
	})

	from := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	ops, err := client.GetOperations(context.Background(), "t", "acc-1", from, to)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	op := ops[0]
	require.NotNil(t, op.Payment)
	assert.InDelta(t, -1500.25, *op.Payment, 1e-12)
	require.NotNil(t, op.Quantity)
	assert.InDelta(t, 10.0, *op.Quantity, 1e-12)
	require.NotNil(t, op.QuantityRest)
	assert.InDelta(t, 2.0, *op.QuantityRest, 1e-12)
	require.NotNil(t, op.Date)
	assert.Equal(t, 2024, op.Date.Year())

	// Malformed date stays nil; the classifier drops it later.
	assert.Nil(t, ops[1].Date)
}

func TestGetInstrumentMetadata(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instrument":{
			"figi":"BBG000B9XRY4","ticker":"AAPL","name":"Apple Inc",
			"instrumentType":"share","lot":"1","currency":"USD"}}`))
	})

	details, err := client.GetInstrumentMetadata(context.Background(), "t", "BBG000B9XRY4")
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, "BBG000B9XRY4", details.Figi)
	require.NotNil(t, details.Ticker)
	assert.Equal(t, "AAPL", *details.Ticker)
	require.NotNil(t, details.Lot)
	assert.InDelta(t, 1.0, *details.Lot, 1e-12)
}

func TestRemoteAPIErrorCarriesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"internal error"}`))
	})

	_, err := client.ListAccounts(context.Background(), "t")
	require.Error(t, err)

	apiErr, ok := domain.AsRemoteAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "internal error", apiErr.Message)
	assert.False(t, apiErr.Unauthorized())
}

func TestUnauthorizedStatusesAreFlagged(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.ListAccounts(context.Background(), "t")
		require.Error(t, err)

		apiErr, ok := domain.AsRemoteAPIError(err)
		require.True(t, ok)
		assert.True(t, apiErr.Unauthorized(), "status %d", status)
	}
}
