package testkit

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// requireDocker 在 -short 或 Docker 不可用时跳过测试
func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
