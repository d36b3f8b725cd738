package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Counterparties: map[string]RuleConfig{
			"GS": {Addresses: []string{"reports@gs.com"}},
			"MS": {SubjectWords: []string{"margin summary"}},
		},
		Dispatch: DispatchConfig{Concurrency: 6},
		RunLog:   RunLogConfig{Driver: "sqlite", DSN: "./runlog.db"},
	}
}

func TestValidateOK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateUnknownCounterparty(t *testing.T) {
	cfg := validConfig()
	cfg.Counterparties["JPM"] = RuleConfig{Addresses: []string{"x@jpm.com"}}
	assert.Error(t, cfg.Validate())
}

func TestValidateEmptyRuleFailsClosed(t *testing.T) {
	cfg := validConfig()
	cfg.Counterparties["UBS"] = RuleConfig{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UBS")
}

func TestValidateFTPSource(t *testing.T) {
	cfg := validConfig()
	cfg.FTP = map[string]FTPSource{"SAXO": {User: "u"}}
	assert.Error(t, cfg.Validate(), "host is required")

	cfg.FTP = map[string]FTPSource{"SAXO": {Host: "ftp.saxo.example:21", Dir: "/out"}}
	assert.NoError(t, cfg.Validate())
}

func TestValidateDispatchConcurrency(t *testing.T) {
	cfg := validConfig()
	cfg.Dispatch.Concurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRunLogDriver(t *testing.T) {
	cfg := validConfig()
	cfg.RunLog.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg.RunLog.Driver = "postgres"
	assert.NoError(t, cfg.Validate())
}
