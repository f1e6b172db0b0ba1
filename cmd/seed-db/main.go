// Command seed-db loads a catalog of sellers, products and images into the
// database. Files ending in .gz are decompressed on the fly.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/product"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		catalogFile string
		reset       bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog", "db/seed/catalog.json", "path to catalog JSON, optionally gzipped")
	flag.BoolVar(&reset, "reset", false, "remove images, cart lines and unordered products first")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile, reset); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile string, reset bool) error {
	c, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	lg.Info("Catalog loaded",
		zap.String("path", catalogFile),
		zap.Int("sellers", len(c.Sellers)),
		zap.Int("products", len(c.Products)),
	)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	w := postgres.NewCatalogWriter(postgres.NewDB(pool, 10*time.Second))
	return w.InTx(ctx, func(ctx context.Context) error {
		if reset {
			deleted, retired, err := w.ResetCatalog(ctx)
			if err != nil {
				return err
			}
			lg.Info("Catalog reset", zap.Int64("deleted", deleted), zap.Int64("retired", retired))
		}
		return load(ctx, lg, w, c)
	})
}

func load(ctx context.Context, lg *zap.Logger, w *postgres.CatalogWriter, c *catalog) error {
	sellerIDs := make(map[string]int64, len(c.Sellers))
	for _, s := range c.Sellers {
		id, err := w.UpsertSeller(ctx, s.Seller)
		if err != nil {
			return err
		}
		sellerIDs[s.Key] = id
		lg.Info("Upserted seller", zap.String("key", s.Key), zap.Int64("id", id))
	}

	for _, p := range c.Products {
		sellerID, ok := sellerIDs[p.Seller]
		if !ok {
			return errors.Errorf("product %q references unknown seller %q", p.Name, p.Seller)
		}
		p.SellerID = sellerID
		id, err := w.InsertProduct(ctx, p.Product, p.Images)
		if err != nil {
			return err
		}
		lg.Debug("Inserted product", zap.Int64("id", id), zap.String("name", p.Name))
	}
	return nil
}

type catalogSeller struct {
	Key string
	product.Seller
}

type catalogProduct struct {
	Seller string
	Images []string
	product.Product
}

type catalog struct {
	Sellers  []catalogSeller
	Products []catalogProduct
}

func readCatalog(path string) (*catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decodeCatalog(data)
}

func decodeCatalog(data []byte) (*catalog, error) {
	var c catalog
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "sellers":
			return d.Arr(func(d *jx.Decoder) error {
				s, err := decodeSeller(d)
				c.Sellers = append(c.Sellers, s)
				return err
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				c.Products = append(c.Products, p)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return &c, nil
}

func decodeSeller(d *jx.Decoder) (catalogSeller, error) {
	s := catalogSeller{Seller: product.Seller{Status: product.SellerApproved}}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "key":
			s.Key, err = d.Str()
		case "companyName":
			s.CompanyName, err = d.Str()
		case "taxId":
			s.TaxID, err = d.Str()
		case "status":
			var v string
			if v, err = d.Str(); err == nil {
				s.Status, err = product.ParseSellerStatus(v)
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && (s.Key == "" || s.TaxID == "") {
		err = errors.New("seller needs key and taxId")
	}
	return s, err
}

func decodeProduct(d *jx.Decoder) (catalogProduct, error) {
	p := catalogProduct{Product: product.Product{Unit: "unit", MinQuantity: 1, Available: true}}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "seller":
			p.Seller, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "unit":
			p.Unit, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "minQuantity":
			p.MinQuantity, err = d.Int()
		case "stock":
			p.Stock, err = d.Int()
		case "available":
			p.Available, err = d.Bool()
		case "images":
			err = d.Arr(func(d *jx.Decoder) error {
				url, err := d.Str()
				p.Images = append(p.Images, url)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && (p.Seller == "" || p.Name == "") {
		err = errors.New("product needs seller and name")
	}
	return p, err
}

// decodeDecimal accepts prices written as JSON numbers or strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}
