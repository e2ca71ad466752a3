package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestConfigDSN_Defaults(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "checkout", Password: "pw", Name: "checkout"}
	assert.Equal(t, "host=db user=checkout password=pw dbname=checkout port=5432 sslmode=disable TimeZone=UTC", cfg.DSN())
}

func TestConnect_RequiresUserAndName(t *testing.T) {
	_, err := Connect(Config{Host: "db"}, zap.NewNop())
	assert.Error(t, err)
}
