package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/address"
	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/config"
	"github.com/MikeMC777/storefront/internal/db"
	"github.com/MikeMC777/storefront/internal/memstore"
	"github.com/MikeMC777/storefront/internal/order"
	"github.com/MikeMC777/storefront/internal/product"
	"github.com/MikeMC777/storefront/internal/user"
)

type storage struct {
	catalog   product.Catalog
	carts     cart.Repository
	addresses address.Repository
	users     user.Repository
	orders    order.Repository
	ping      func(context.Context) error
	close     func()
}

func openStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		m := memstore.New()
		m.SeedDemo()
		return &storage{
			catalog:   m.Catalog,
			carts:     m.Carts,
			addresses: m.Addresses,
			users:     m.Users,
			orders:    m.Orders,
			ping:      func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	}

	pool, err := db.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("schema applied")
	}
	return &storage{
		catalog:   product.NewPGRepo(pool),
		carts:     cart.NewPGRepo(pool),
		addresses: address.NewPGRepo(pool),
		users:     user.NewPGRepo(pool),
		orders:    order.NewPGRepo(pool),
		ping:      pool.Ping,
		close:     pool.Close,
	}, nil
}
