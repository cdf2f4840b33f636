package scgid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Config_defaults_validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerCommand = []string{"worker"}
	assert.NoError(t, cfg.Validate())
}

func Test_Config_setdefaults_fills_unset(t *testing.T) {
	cfg := Config{WorkerCommand: []string{"worker"}}
	cfg.SetDefaults()
	assert.Equal(t, DefaultListenNetwork, cfg.ListenNetwork)
	assert.Equal(t, DefaultMaxProcesses, cfg.MaxProcesses)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultSpoolMax, cfg.SpoolMax)
	// zero is meaningful for these two, so they stay put
	assert.Equal(t, 0, cfg.MinProcesses)
	assert.Equal(t, 0, cfg.QueueDepth)
	assert.NoError(t, cfg.Validate())
}

func Test_Config_setdefaults_raises_max_to_min(t *testing.T) {
	cfg := Config{WorkerCommand: []string{"worker"}, MinProcesses: 16}
	cfg.SetDefaults()
	assert.Equal(t, 16, cfg.MaxProcesses)
	assert.NoError(t, cfg.Validate())
}

func Test_Config_validate_rejects_bad_values(t *testing.T) {
	good := DefaultConfig()
	good.WorkerCommand = []string{"worker"}

	cfg := good
	cfg.WorkerCommand = nil
	assert.Error(t, cfg.Validate())

	cfg = good
	cfg.MaxProcesses = 0
	assert.Error(t, cfg.Validate())

	cfg = good
	cfg.MinProcesses = 4
	cfg.MaxProcesses = 2
	assert.Error(t, cfg.Validate())

	cfg = good
	cfg.RequestTimeout = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = good
	cfg.SpawnBackoffInitial = time.Second
	cfg.SpawnBackoffMax = time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = good
	cfg.ListenNetwork = "udp"
	assert.Error(t, cfg.Validate())
}
