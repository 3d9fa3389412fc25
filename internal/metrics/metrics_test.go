package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/crud"
)

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation(crud.OperationPersist, "model.Person", time.Millisecond, nil)
	m.ObserveOperation(crud.OperationPersist, "model.Person", time.Millisecond, nil)
	m.ObserveOperation(crud.OperationFind, "model.Person", time.Millisecond,
		fmt.Errorf("failed to find entry: %w", backend.ErrEntryNotFound))
	m.ObserveOperation(crud.OperationMerge, "model.Person", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("persist", "model.Person", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("find", "model.Person", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotFoundTotal.WithLabelValues("find")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NotFoundTotal.WithLabelValues("merge")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.OperationDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveOperation(crud.OperationRemove, "model.Session", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `entrymap_operations_total{operation="remove",status="success",type="model.Session"} 1`)
}
