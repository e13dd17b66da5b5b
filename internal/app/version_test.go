package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionInfo(t *testing.T) {
	v := VersionInfo{Version: "v1.2.0", GitCommit: "abc123", BuildTime: "2024-01-01"}
	assert.Equal(t, "v1.2.0", v.String())
	assert.Equal(t, "Reh v1.2.0 (commit: abc123, built: 2024-01-01)", v.FullString())

	v.GitTag = "v1.2.1"
	assert.Equal(t, "v1.2.1", v.String())
}
