//go:build integration

package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
	"github.com/xenking/marketplace-checkout/pkg/health"
)

const jwtSecret = "integration-secret"

var (
	baseURL string
	pool    *pgxpool.Pool
	catalog struct {
		quinoa, flour, retired int64
	}
)

var orderNumberPattern = regexp.MustCompile(`^ORD-[0-9A-F]{32}$`)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "market",
				"POSTGRES_PASSWORD": "market",
				"POSTGRES_DB":       "market",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	pool, err = postgres.NewPool(ctx, "postgres://market:market@"+host+":"+port.Port()+"/market?sslmode=disable")
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := seed(ctx); err != nil {
		log.Fatalf("seed: %v", err)
	}

	cfg := &Config{
		ImageBaseURL: "https://img.example",
		Auth:         AuthConfig{JWTSecret: jwtSecret, Issuer: "market-id"},
		Checkout:     CheckoutConfig{LockTimeout: 3 * time.Second},
		Events:       EventsConfig{Topic: "marketplace.order.placed"},
		RateLimit:    RateLimitConfig{Burst: 1000, Rate: 1000},
		CORS:         CORSConfig{Origins: []string{"*"}},
	}

	hc := health.New()
	hc.Register(health.Check{Name: "postgres", Probe: health.Readiness, Func: health.Ping(pool)})
	hc.SetReady(true)

	svc := newAPI(ctx, zap.NewNop(), noopTelemetry{}, cfg, pool, hc, cart.NopCountCache{})
	srv := httptest.NewServer(svc.handler)
	defer srv.Close()
	baseURL = srv.URL

	return m.Run()
}

func seed(ctx context.Context) error {
	w := postgres.NewCatalogWriter(postgres.NewDB(pool, time.Second))
	return w.InTx(ctx, func(ctx context.Context) error {
		andes, err := w.UpsertSeller(ctx, product.Seller{CompanyName: "Andes Farms", TaxID: "20100000001", Status: product.SellerApproved})
		if err != nil {
			return err
		}
		lima, err := w.UpsertSeller(ctx, product.Seller{CompanyName: "Lima Mills", TaxID: "20100000002", Status: product.SellerApproved})
		if err != nil {
			return err
		}
		if catalog.quinoa, err = w.InsertProduct(ctx, product.Product{
			SellerID: andes, Name: "Quinoa", Unit: "kg", Price: decimal.RequireFromString("12.90"),
			MinQuantity: 2, Stock: 10, Available: true,
		}, []string{"/quinoa.jpg"}); err != nil {
			return err
		}
		if catalog.flour, err = w.InsertProduct(ctx, product.Product{
			SellerID: lima, Name: "Wheat Flour", Unit: "bag", Price: decimal.RequireFromString("145.00"),
			MinQuantity: 1, Stock: 3, Available: true,
		}, nil); err != nil {
			return err
		}
		catalog.retired, err = w.InsertProduct(ctx, product.Product{
			SellerID: lima, Name: "Semolina", Unit: "bag", Price: decimal.RequireFromString("98.00"),
			MinQuantity: 1, Stock: 12, Available: false,
		}, nil)
		return err
	})
}

func bearer(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, handler.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    "market-id",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return tok
}

type result struct {
	status int
	header http.Header
	fields map[string]string
	raw    string
}

func call(t *testing.T, method, path, token, body string) result {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := result{status: resp.StatusCode, header: resp.Header, raw: string(data), fields: map[string]string{}}
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
			raw, err := d.Raw()
			out.fields[key] = raw.String()
			return err
		}))
	}
	return out
}

func stockOf(t *testing.T, id int64) int {
	t.Helper()
	var stock int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id = $1`, id).Scan(&stock))
	return stock
}

func TestProbes(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := call(t, http.MethodGet, path, "", "")
			require.Equal(t, http.StatusOK, resp.status, resp.raw)
			assert.Equal(t, `"ok"`, resp.fields["status"])
		})
	}
}

func TestMiddlewareChain(t *testing.T) {
	resp := call(t, http.MethodGet, "/api/products", "", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.NotEmpty(t, resp.header.Get("X-Request-ID"))
	assert.Contains(t, resp.raw, `"imageUrl":"https://img.example/quinoa.jpg"`)
	assert.NotContains(t, resp.raw, "Semolina")
}

func TestGuestIsRejected(t *testing.T) {
	resp := call(t, http.MethodGet, "/api/cart", bearer(t, 1, "guest"), "")
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = call(t, http.MethodGet, "/api/cart", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestCheckoutEndToEnd(t *testing.T) {
	const userID = 42
	tok := bearer(t, userID, "customer")
	quinoaBefore := stockOf(t, catalog.quinoa)

	resp := call(t, http.MethodPost, "/api/cart", tok, `{"productId":`+strconv.FormatInt(catalog.quinoa, 10)+`,"quantity":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.status, resp.raw)
	assert.Equal(t, `"below_minimum"`, resp.fields["kind"])

	resp = call(t, http.MethodPost, "/api/cart", tok, `{"productId":`+strconv.FormatInt(catalog.quinoa, 10)+`,"quantity":2}`)
	require.Equal(t, http.StatusCreated, resp.status, resp.raw)
	resp = call(t, http.MethodPost, "/api/cart", tok, `{"productId":`+strconv.FormatInt(catalog.flour, 10)+`,"quantity":1}`)
	require.Equal(t, http.StatusCreated, resp.status, resp.raw)

	resp = call(t, http.MethodGet, "/api/cart/count", tok, "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "2", resp.fields["count"])

	resp = call(t, http.MethodPost, "/api/orders/checkout", tok, `{"deliveryAddress":"Av. Larco 123","contactPhone":"+51 999 111 222"}`)
	require.Equal(t, http.StatusCreated, resp.status, resp.raw)
	assert.Equal(t, "170.80", resp.fields["total"])
	assert.Equal(t, `"created"`, resp.fields["status"])
	assert.Equal(t, `"CARD"`, resp.fields["paymentMethod"])

	number, err := strconv.Unquote(resp.fields["orderNumber"])
	require.NoError(t, err)
	assert.Regexp(t, orderNumberPattern, number)
	orderID := resp.fields["id"]

	assert.Equal(t, quinoaBefore-2, stockOf(t, catalog.quinoa))

	resp = call(t, http.MethodGet, "/api/cart/count", tok, "")
	assert.Equal(t, "0", resp.fields["count"])

	resp = call(t, http.MethodGet, "/api/orders/"+orderID, tok, "")
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	assert.Contains(t, resp.raw, `"sellerName":"Andes Farms"`)
	assert.Contains(t, resp.raw, `"sellerName":"Lima Mills"`)
	assert.Contains(t, resp.raw, `"imageUrl":"https://img.example/quinoa.jpg"`)

	resp = call(t, http.MethodGet, "/api/orders/"+orderID, bearer(t, userID+1, "customer"), "")
	assert.Equal(t, http.StatusNotFound, resp.status)

	var pending int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM outbox WHERE key = $1 AND sent_at IS NULL`, number).Scan(&pending))
	assert.Equal(t, 1, pending)
}

func TestCheckoutInsufficientStockLeavesStateUnchanged(t *testing.T) {
	const userID = 77
	tok := bearer(t, userID, "customer")

	resp := call(t, http.MethodPost, "/api/cart", tok, `{"productId":`+strconv.FormatInt(catalog.flour, 10)+`,"quantity":1}`)
	require.Equal(t, http.StatusCreated, resp.status, resp.raw)

	// Drain the stock behind the cart's back.
	before := stockOf(t, catalog.flour)
	_, err := pool.Exec(context.Background(), `UPDATE products SET stock = 0 WHERE id = $1`, catalog.flour)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `UPDATE products SET stock = $2 WHERE id = $1`, catalog.flour, before)
	})

	resp = call(t, http.MethodPost, "/api/orders/checkout", tok, `{"deliveryAddress":"Jr. Cusco 9","contactPhone":"999"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.status, resp.raw)
	assert.Equal(t, `"insufficient_stock"`, resp.fields["kind"])
	assert.Equal(t, "0", resp.fields["available"])

	resp = call(t, http.MethodGet, "/api/cart/count", tok, "")
	assert.Equal(t, "1", resp.fields["count"])

	resp = call(t, http.MethodGet, "/api/orders", tok, "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "[]", strings.TrimSpace(resp.raw))
}
