package memory

import (
	"testing"

	"tapevault/internal/config"
	"tapevault/internal/config/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func() config.Store { return NewStore() })
}
