package memstore

import (
	"testing"

	"taskflow/services/task/internal/store"
	"taskflow/services/task/internal/store/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
