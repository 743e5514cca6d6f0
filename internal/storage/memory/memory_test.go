package memory_test

import (
	"testing"

	"github.com/softfuse/softfuse/internal/storage/memory"
	"github.com/softfuse/softfuse/internal/storage/storetest"
	"github.com/softfuse/softfuse/pkg/storage"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return memory.New()
	})
}
