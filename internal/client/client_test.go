package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, bool) {
	return string(s), s != ""
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, 5*time.Second)
}

func TestListProducts_BareArrayAndBearer(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/products", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"p1","precio":"12000"},{"id":"p2"}]`))
	})
	c.SetTokenSource(staticToken("abc"))

	records, err := c.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Bearer abc", gotAuth)

	price, ok := records[0].Decimal("price", "precio")
	require.True(t, ok)
	assert.Equal(t, "12000", price.String())
}

func TestListCompanies_Envelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "no token source, no header")
		_, _ = w.Write([]byte(`{"data":[{"id":"c1"}],"total":1}`))
	})

	records, err := c.ListCompanies(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0].String("id"))
}

func TestListCategories_MixedShapes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["Hogar", {"id": 2, "nombre": "Ropa"}, 7]`))
	})

	cats, err := c.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Hogar", cats[0].Name)
	assert.Equal(t, "2", cats[1].ID)
}

func TestErrors_StatusMapping(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		sentinel error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, sentinel: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, sentinel: ErrUnauthorized},
		{name: "not found", status: http.StatusNotFound, sentinel: ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			_, err := c.ListUsers(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestErrors_ServerErrorIsNotSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "boom")
}

func TestNewAPIError_FieldShapes(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		fields []FieldError
	}{
		{
			name: "errors map",
			body: `{"message":"Validation failed","errors":{"phone":"required","email":["taken","invalid"]}}`,
			fields: []FieldError{
				{Field: "email", Messages: []string{"taken", "invalid"}},
				{Field: "phone", Messages: []string{"required"}},
			},
		},
		{
			name:   "errors list",
			body:   `{"errors":[{"field":"quantity","message":"exceeds stock"}]}`,
			fields: []FieldError{{Field: "quantity", Messages: []string{"exceeds stock"}}},
		},
		{
			name:   "bare field map",
			body:   `{"shippingAddress":["may not be blank"],"status":400}`,
			fields: []FieldError{{Field: "shippingAddress", Messages: []string{"may not be blank"}}},
		},
		{
			name: "not json",
			body: `<html>bad gateway</html>`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := newAPIError(http.StatusBadRequest, []byte(tc.body))
			assert.Equal(t, tc.fields, apiErr.FieldErrors)
		})
	}
}

func TestCreateSale_SendsPayloadAndIdempotencyKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sales", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		raw, _ := io.ReadAll(r.Body)
		var got SaleRequest
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "24000", got.Total)
		require.Len(t, got.Items, 1)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"s-9","status":"pending"}}`))
	})

	sale, err := c.CreateSale(context.Background(), SaleRequest{
		Items: []SaleLine{{ProductID: "p1", Quantity: 2, UnitPrice: "12000"}},
		Total: "24000",
	}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "s-9", sale.ID)
	assert.Equal(t, "pending", sale.Status)
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "ana@x.io", creds["email"])
		_, _ = w.Write([]byte(`{"accessToken":"t-1","user":{"id":5,"nombre":"Ana","rol":"cliente"}}`))
	})

	result, err := c.Login(context.Background(), "ana@x.io", "secret")
	require.NoError(t, err)
	assert.Equal(t, "t-1", result.Token)
	assert.Equal(t, "5", result.User.ID)
	assert.Equal(t, "client", result.User.Role)
	assert.Equal(t, "ana@x.io", result.User.Email, "falls back to the login e-mail")
}

func TestLogin_NoToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	_, err := c.Login(context.Background(), "a@b.c", "x")
	assert.Error(t, err)
}

func TestLogout_UsesGivenToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	c.SetTokenSource(staticToken(""))

	assert.NoError(t, c.Logout(context.Background(), "old"))
}

func TestContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ListProducts(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
