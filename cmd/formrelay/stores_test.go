package main

import (
	"context"
	"path/filepath"
	"testing"

	"nuha.dev/formrelay/internal/config"
	"nuha.dev/formrelay/internal/store/impl/jsonstore"
	"nuha.dev/formrelay/internal/store/impl/multistore"
)

func TestOpenSingleStore(t *testing.T) {
	c := &config.StoreConfig{Drivers: []string{config.DriverJSON}}
	c.JSON.Path = filepath.Join(t.TempDir(), "data.json")
	st, err := openStore(context.Background(), c)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*jsonstore.Store); !ok {
		t.Fatalf("expected json store, got %T", st)
	}
}

func TestOpenSeveralStores(t *testing.T) {
	dir := t.TempDir()
	c := &config.StoreConfig{Drivers: []string{config.DriverJSON, config.DriverSQLite, config.DriverLog}}
	c.JSON.Path = filepath.Join(dir, "data.json")
	c.SQLite.Path = filepath.Join(dir, "data.db")
	st, err := openStore(context.Background(), c)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*multistore.MultiStore); !ok {
		t.Fatalf("expected multi store, got %T", st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	c := &config.StoreConfig{Drivers: []string{"redis"}}
	if _, err := openStore(context.Background(), c); err == nil {
		t.Fatal("expected error")
	}
}
