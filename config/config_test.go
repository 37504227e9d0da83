package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 1, cfg.Size())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(envHosts, "4, 4,2")
	t.Setenv(envGPUs, "4")
	t.Setenv(envAllreduceAlgo, "RING")
	t.Setenv(envFP16, "false")
	t.Setenv(envController, "mpi")
	t.Setenv(envBuilt, "mpi,nccl")
	t.Setenv(envMPIThreads, "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 2}, cfg.Hosts)
	assert.Equal(t, 10, cfg.Size())
	assert.Equal(t, 4, cfg.GPUs)
	assert.Equal(t, "ring", cfg.AllreduceAlgo)
	assert.False(t, cfg.FP16)
	assert.Equal(t, ControllerMPI, cfg.Controller)
	assert.Equal(t, Built{MPI: true, NCCL: true}, cfg.Built)
	assert.True(t, cfg.MPIThreads)
}

func TestLoadErrors(t *testing.T) {
	for name, env := range map[string][2]string{
		"BadHosts":      {envHosts, "4,x"},
		"EmptyHost":     {envHosts, "4,0"},
		"BadAlgo":       {envAllreduceAlgo, "butterfly"},
		"BadBool":       {envFP16, "maybe"},
		"BadLibrary":    {envBuilt, "gloo,tpu"},
		"MissingMPI":    {envController, "mpi"},
		"BadController": {envController, "carrier-pigeon"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
