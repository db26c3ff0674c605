package main

import (
	"context"
	"fmt"

	"nuha.dev/formrelay/internal/config"
	"nuha.dev/formrelay/internal/store"
	"nuha.dev/formrelay/internal/store/impl/jsonstore"
	"nuha.dev/formrelay/internal/store/impl/logstore"
	"nuha.dev/formrelay/internal/store/impl/multistore"
	"nuha.dev/formrelay/internal/store/impl/natsstore"
	"nuha.dev/formrelay/internal/store/impl/pgstore"
	"nuha.dev/formrelay/internal/store/impl/sqlitestore"
)

// openStore opens every configured sink. One sink is returned as is,
// several are combined.
func openStore(ctx context.Context, c *config.StoreConfig) (store.Store, error) {
	var sinks []store.Store
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	for _, d := range c.Drivers {
		var s store.Store
		var err error
		switch d {
		case config.DriverJSON:
			s, err = jsonstore.Open(&c.JSON)
		case config.DriverSQLite:
			s, err = sqlitestore.Open(&c.SQLite)
		case config.DriverPostgres:
			s, err = pgstore.Connect(ctx, &c.Postgres)
		case config.DriverNATS:
			s, err = natsstore.Connect(&c.NATS)
		case config.DriverLog:
			s = logstore.NewStore()
		default:
			err = fmt.Errorf("unknown store driver %q", d)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return multistore.New(sinks...), nil
}
