package quickbooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeTokens struct {
	realm       string
	token       string
	invalidated atomic.Int32
	err         error
}

func (f *fakeTokens) AccessToken(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidated.Add(1)
	f.token = "refreshed"
}

func (f *fakeTokens) RealmID() string { return f.realm }

func testConfig(baseURL string) *Config {
	return &Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Environment:  "sandbox",
		BaseURL:      baseURL,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *fakeTokens) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := &fakeTokens{realm: "4620816365", token: "access"}
	client, err := NewClient(testConfig(server.URL), tokens, zap.NewNop())
	require.NoError(t, err)
	return client, tokens
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const duplicateFault = `{"Fault":{"Error":[{"Message":"Duplicate Name Exists Error","Detail":"The name supplied already exists. : Id=58","code":"6240"}],"type":"ValidationFault"},"time":"2024-01-01T00:00:00.000-08:00"}`

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"valid config", &Config{ClientID: "id", ClientSecret: "secret"}, nil},
		{"missing client id", &Config{ClientSecret: "secret"}, ErrConfigMissingClientID},
		{"missing client secret", &Config{ClientID: "id"}, ErrConfigMissingClientSecret},
		{"bad environment", &Config{ClientID: "id", ClientSecret: "s", Environment: "staging"}, integration.ErrPlatformNotConfigured},
		{"non numeric realm", &Config{ClientID: "id", ClientSecret: "s", RealmID: "abc"}, integration.ErrPlatformNotConfigured},
		{"bad base url", &Config{ClientID: "id", ClientSecret: "s", BaseURL: "::nope"}, integration.ErrPlatformNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, EnvironmentSandbox, tt.config.Environment)
			assert.Equal(t, DefaultTokenURL, tt.config.TokenURL)
			assert.Equal(t, DefaultAuthURL, tt.config.AuthURL)
			assert.Equal(t, DefaultMinorVersion, tt.config.MinorVersion)
			assert.Equal(t, 30*time.Second, tt.config.Timeout)
			assert.Equal(t, DefaultIncomeAccountID, tt.config.IncomeAccountID)
		})
	}
}

func TestConfig_APIBaseURL(t *testing.T) {
	c := &Config{Environment: EnvironmentProduction}
	assert.Equal(t, ProductionAPIURL, c.APIBaseURL())
	c.Environment = EnvironmentSandbox
	assert.Equal(t, SandboxAPIURL, c.APIBaseURL())
	c.BaseURL = "http://localhost:9000/"
	assert.Equal(t, "http://localhost:9000", c.APIBaseURL())
}

// ---------------------------------------------------------------------------
// Transport Tests
// ---------------------------------------------------------------------------

func TestClient_Query(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v3/company/4620816365/query", r.URL.Path)
		assert.Equal(t, "75", r.URL.Query().Get("minorversion"))
		assert.Equal(t, `SELECT Id, DisplayName FROM Customer WHERE DisplayName = 'O\'Brien ID 9' MAXRESULTS 1`,
			r.URL.Query().Get("query"))
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		writeJSON(w, http.StatusOK, `{"QueryResponse":{"Customer":[{"Id":"42","DisplayName":"O'Brien ID 9","Balance":null}]}}`)
	})

	ref, err := client.FindCustomerByDisplayName(context.Background(), "O'Brien ID 9")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "42", ref.ID)
}

func TestClient_FindReturnsNilWhenEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"QueryResponse":{},"time":"2024-01-01"}`)
	})

	ctx := context.Background()
	cust, err := client.FindCustomerByDisplayName(ctx, "Nobody")
	require.NoError(t, err)
	assert.Nil(t, cust)

	item, err := client.FindItemByName(ctx, "Nothing")
	require.NoError(t, err)
	assert.Nil(t, item)

	pm, err := client.FindPaymentMethod(ctx, "Barter")
	require.NoError(t, err)
	assert.Nil(t, pm)

	refs, err := client.SearchCustomers(ctx, "Jane")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestClient_SearchCustomers(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SELECT Id, DisplayName FROM Customer WHERE DisplayName LIKE '%Jane Doe ID 7%' MAXRESULTS 5",
			r.URL.Query().Get("query"))
		writeJSON(w, http.StatusOK, `{"QueryResponse":{"Customer":[{"Id":"1","DisplayName":"Jane Doe ID 7"},{"Id":"2","DisplayName":"Jane Doe ID 77"}]}}`)
	})

	refs, err := client.SearchCustomers(context.Background(), "Jane Doe ID 7")
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestClient_RetriesOnceOn401(t *testing.T) {
	var calls atomic.Int32
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusUnauthorized, `{"fault":{"error":[{"message":"message=AuthenticationFailed","detail":"Token expired","code":"3200"}],"type":"AUTHENTICATION"}}`)
			return
		}
		assert.Equal(t, "Bearer refreshed", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"QueryResponse":{"Item":[{"Id":"7","Name":"Consultation"}]}}`)
	})

	ref, err := client.FindItemByName(context.Background(), "Consultation")
	require.NoError(t, err)
	assert.Equal(t, "7", ref.ID)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestClient_Persistent401(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, `{"fault":{"error":[{"message":"AuthenticationFailed","code":"3200"}],"type":"AUTHENTICATION"}}`)
	})

	_, err := client.FindItemByName(context.Background(), "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrPlatformAuthFailed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"bad request", http.StatusBadRequest, `{"Fault":{"Error":[{"Message":"Invalid Reference Id","code":"2500"}],"type":"ValidationFault"}}`, integration.ErrPlatformRequestFailed},
		{"server error", http.StatusServiceUnavailable, `upstream down`, integration.ErrPlatformUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{}`, integration.ErrPlatformRateLimited},
		{"forbidden", http.StatusForbidden, `{}`, integration.ErrPlatformAuthFailed},
		{"fault with 200", http.StatusOK, `{"Fault":{"Error":[{"Message":"Business Validation Error","code":"6000"}],"type":"ValidationFault"}}`, integration.ErrPlatformRequestFailed},
		{"invalid json", http.StatusOK, `{"QueryResponse":`, integration.ErrPlatformInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := client.FindItemByName(context.Background(), "X")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(testConfig(url), &fakeTokens{realm: "1", token: "t"}, nil)
	require.NoError(t, err)
	_, err = client.FindItemByName(context.Background(), "X")
	assert.ErrorIs(t, err, integration.ErrPlatformUnavailable)
}

func TestClient_RequiresRealm(t *testing.T) {
	client, err := NewClient(testConfig("http://127.0.0.1:1"), &fakeTokens{token: "t"}, nil)
	require.NoError(t, err)
	_, err = client.FindItemByName(context.Background(), "X")
	assert.ErrorIs(t, err, integration.ErrPlatformNotConfigured)
}

func TestClient_TokenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a token")
	}))
	defer server.Close()

	tokens := &fakeTokens{realm: "1", err: integration.ErrPlatformAuthFailed}
	client, err := NewClient(testConfig(server.URL), tokens, nil)
	require.NoError(t, err)
	_, err = client.FindItemByName(context.Background(), "X")
	assert.ErrorIs(t, err, integration.ErrPlatformAuthFailed)
}

// ---------------------------------------------------------------------------
// Entity Tests
// ---------------------------------------------------------------------------

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestClient_CreateCustomer(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/company/4620816365/customer", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body := decodeBody(t, r)
		assert.Equal(t, "Jane Doe ID 7", body["DisplayName"])
		assert.Equal(t, "Jane Doe", body["GivenName"])
		assert.Equal(t, false, body["Taxable"])
		assert.NotContains(t, body, "CompanyName")
		assert.Equal(t, "jane.doe.id.7@example.com", body["PrimaryEmailAddr"].(map[string]any)["Address"])
		assert.Equal(t, "Nairobi", body["BillAddr"].(map[string]any)["City"])
		writeJSON(w, http.StatusOK, `{"Customer":{"Id":"58","DisplayName":"Jane Doe ID 7"}}`)
	})

	ref, err := client.CreateCustomer(context.Background(), integration.NewCustomer{
		DisplayName: "Jane Doe ID 7",
		GivenName:   "Jane Doe",
		Email:       "jane.doe.id.7@example.com",
		Phone:       "0712345678",
		Address:     integration.Address{Line1: "N/A", City: "Nairobi", Country: "Kenya", SubDivision: "KE-110", PostalCode: "00100"},
	})
	require.NoError(t, err)
	assert.Equal(t, "58", ref.ID)
}

func TestClient_CreateCustomer_Duplicate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, duplicateFault)
	})

	_, err := client.CreateCustomer(context.Background(), integration.NewCustomer{DisplayName: "Jane"})
	require.Error(t, err)
	assert.True(t, IsDuplicateName(err))
	assert.ErrorIs(t, err, integration.ErrDuplicateName)
	assert.ErrorIs(t, err, integration.ErrPlatformRequestFailed)
	assert.Contains(t, err.Error(), "Duplicate Name Exists Error (6240)")
}

func TestClient_CreateItem(t *testing.T) {
	var gotAccount string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "Service", body["Type"])
		assert.Len(t, []rune(body["Description"].(string)), maxDescriptionLength)
		assert.NotContains(t, body, "UnitPrice")
		gotAccount = body["IncomeAccountRef"].(map[string]any)["value"].(string)
		writeJSON(w, http.StatusOK, `{"Item":{"Id":"99","Name":"Paracetamol 500Mg"}}`)
	})

	ref, err := client.CreateItem(context.Background(), integration.NewItem{
		Name:        "Paracetamol 500Mg",
		Description: strings.Repeat("é", 5000),
	})
	require.NoError(t, err)
	assert.Equal(t, "99", ref.ID)
	assert.Equal(t, DefaultIncomeAccountID, gotAccount)

	_, err = client.CreateItem(context.Background(), integration.NewItem{Name: "X", IncomeAccountID: "79"})
	require.NoError(t, err)
	assert.Equal(t, "79", gotAccount)
}

func TestClient_CreateItem_NonNumericID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"Item":{"Id":"abc","Name":"X"}}`)
	})
	_, err := client.CreateItem(context.Background(), integration.NewItem{Name: "X"})
	assert.ErrorIs(t, err, integration.ErrInvalidRecordID)
}

func TestClient_CreatePaymentMethod(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "NON_CREDIT_CARD", body["Type"])
		assert.Equal(t, "A Very Long Payment Method Name", body["Name"])
		writeJSON(w, http.StatusOK, `{"PaymentMethod":{"Id":"12","Name":"A Very Long Payment Method Name"}}`)
	})

	ref, err := client.CreatePaymentMethod(context.Background(), "  A Very   Long Payment Method Name That Overflows ")
	require.NoError(t, err)
	assert.Equal(t, "12", ref.ID)
}

func TestPaymentMethodName(t *testing.T) {
	assert.Equal(t, "MPESA", PaymentMethodName("  MPESA "))
	assert.Len(t, []rune(PaymentMethodName(strings.Repeat("x", 50))), 31)
}

func testDocument(kind integration.DocumentKind) integration.SalesDocument {
	return integration.SalesDocument{
		Kind:            kind,
		CustomerID:      "58",
		TxnDate:         time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		DocNumber:       "INV-001",
		CustomerMemo:    "Medical service for Jane Doe",
		PaymentMethodID: "3",
		Lines: []integration.SalesLine{{
			ItemID:      "99",
			Description: "Paracetamol | Qty: 2",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("270.00"),
			Amount:      decimal.RequireFromString("270.00"),
			TaxCode:     "6",
		}},
	}
}

func TestClient_CreateInvoice(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/company/4620816365/invoice", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "2024-03-15", body["TxnDate"])
		assert.Equal(t, "INV-001", body["DocNumber"])
		assert.NotContains(t, body, "DueDate")
		assert.NotContains(t, body, "PaymentMethodRef")
		assert.NotContains(t, body, "TotalAmt")
		assert.Equal(t, "Medical service for Jane Doe", body["CustomerMemo"].(map[string]any)["value"])

		lines := body["Line"].([]any)
		require.Len(t, lines, 1)
		line := lines[0].(map[string]any)
		assert.Equal(t, float64(270), line["Amount"])
		assert.Equal(t, "SalesItemLineDetail", line["DetailType"])
		detail := line["SalesItemLineDetail"].(map[string]any)
		assert.Equal(t, "6", detail["TaxCodeRef"].(map[string]any)["value"])
		assert.Equal(t, float64(1), detail["Qty"])
		writeJSON(w, http.StatusOK, `{"Invoice":{"Id":"130","DocNumber":"INV-001","TotalAmt":270,"Line":[{"Amount":270,"LineNum":null}]}}`)
	})

	ref, err := client.CreateInvoice(context.Background(), testDocument(integration.DocumentInvoice))
	require.NoError(t, err)
	assert.Equal(t, "130", ref.ID)
	assert.Equal(t, "INV-001", ref.Name)
}

func TestClient_CreateSalesReceipt(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/company/4620816365/salesreceipt", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "3", body["PaymentMethodRef"].(map[string]any)["value"])
		writeJSON(w, http.StatusOK, `{"SalesReceipt":{"Id":"131","DocNumber":"INV-001"}}`)
	})

	ref, err := client.CreateSalesReceipt(context.Background(), testDocument(integration.DocumentSalesReceipt))
	require.NoError(t, err)
	assert.Equal(t, "131", ref.ID)
}

func TestClient_CreateSalesReceipt_Invalid(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid documents must not be sent")
	})
	doc := testDocument(integration.DocumentSalesReceipt)
	doc.PaymentMethodID = ""
	_, err := client.CreateSalesReceipt(context.Background(), doc)
	assert.ErrorContains(t, err, "no payment method")
}

// ---------------------------------------------------------------------------
// Type Tests
// ---------------------------------------------------------------------------

func TestNumber_JSON(t *testing.T) {
	var item Item
	require.NoError(t, json.Unmarshal([]byte(`{"Id":"1","Name":"X","UnitPrice":null}`), &item))
	assert.True(t, item.UnitPrice.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`{"Id":"1","Name":"X","UnitPrice":"12.50"}`), &item))
	assert.Equal(t, "12.5", item.UnitPrice.String())

	data, err := json.Marshal(Line{Amount: NewNumber(decimal.RequireFromString("10.25")), DetailType: "SalesItemLineDetail"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Amount":10.25`)
}

func TestAPIError(t *testing.T) {
	err := parseAPIError(http.StatusBadRequest, []byte(duplicateFault))
	assert.True(t, IsDuplicateName(err))
	assert.Equal(t, "ValidationFault", err.Type)

	plain := parseAPIError(http.StatusBadRequest, []byte("Duplicate record"))
	assert.True(t, IsDuplicateName(plain))
	assert.Contains(t, plain.Error(), "Duplicate record")

	other := parseAPIError(http.StatusBadRequest, []byte(`{"Fault":{"Error":[{"Message":"Invalid","code":"2010"}]}}`))
	assert.False(t, IsDuplicateName(other))
	assert.False(t, errors.Is(other, integration.ErrDuplicateName))

	assert.False(t, IsDuplicateName(errors.New("boom")))
	assert.True(t, IsDuplicateName(integration.ErrDuplicateName))
}
