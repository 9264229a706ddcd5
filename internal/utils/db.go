package utils

import (
	"database/sql"
	"net/url"

	"cdn-router/internal/config"

	_ "github.com/lib/pq"
)

// OpenPostgres：打开连接池，不主动建立连接
func OpenPostgres(dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
	}
	return db, nil
}

// BuildPostgresDSNFromEnv：由 PG_* 组装 postgres:// DSN
func BuildPostgresDSNFromEnv() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   config.String("PG_HOST") + ":" + config.String("PG_PORT"),
		Path:   "/" + config.String("PG_DB"),
	}
	if pass := config.String("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(config.String("PG_USER"), pass)
	} else {
		u.User = url.User(config.String("PG_USER"))
	}
	u.RawQuery = "sslmode=" + url.QueryEscape(config.String("PG_SSLMODE"))
	return u.String()
}

func OpenPostgresFromEnv() (*sql.DB, error) {
	return OpenPostgres(BuildPostgresDSNFromEnv(), config.Int("PG_MAX_OPEN_CONNS"))
}
