package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Service, info.Service)
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfo_String(t *testing.T) {
	info := Info{Service: "streamscout", Version: "v1.2.0", Commit: "abc123", BuildTime: "2026-10-01T00:00:00Z", GoVersion: "go1.26.0"}
	assert.Equal(t, "streamscout v1.2.0 (abc123, built 2026-10-01T00:00:00Z, go1.26.0)", info.String())
}

func TestInfo_JSONFields(t *testing.T) {
	data, err := json.Marshal(Get())
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"service", "version", "commit", "build_time", "go_version"} {
		assert.Contains(t, fields, key)
	}
}
