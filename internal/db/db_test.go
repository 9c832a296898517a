package db

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jjudge-oj/accounts/config"
)

func TestPostgresURL(t *testing.T) {
	raw := PostgresURL(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "accounts",
		Password: "p@ss/word",
		DBName:   "accounts_db",
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "postgres", u.Scheme)
	require.Equal(t, "db.internal:5433", u.Host)
	require.Equal(t, "/accounts_db", u.Path)
	pass, _ := u.User.Password()
	require.Equal(t, "p@ss/word", pass)
	require.Equal(t, "disable", u.Query().Get("sslmode"))

	raw = PostgresURL(config.DatabaseConfig{Host: "h", Port: 1, DBName: "d", UseSSL: true})
	u, err = url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "require", u.Query().Get("sslmode"))
}
