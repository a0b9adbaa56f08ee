package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayeredError_Code(t *testing.T) {
	assert.Equal(t, 210001, ErrInvalidInstance.Code())
	assert.Equal(t, "registry", ErrInvalidInstance.Module())
	assert.Equal(t, http.StatusBadRequest, ErrInvalidInstance.HTTPStatus())
}

func TestLayeredError_WrapAndIs(t *testing.T) {
	cause := errors.New("service name is empty")
	err := ErrInvalidInstance.Wrap(cause).WithData("field", "service_name")

	assert.True(t, errors.Is(err, ErrInvalidInstance))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrInstanceNotFound))
	assert.Equal(t, "service_name", err.Data()["field"])
	assert.Empty(t, ErrInvalidInstance.Data(), "原实例不应被修改")
	assert.Contains(t, err.Error(), "service name is empty")
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrRateLimited.WithMsg("too many"))
	le, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, le.HTTPStatus())
	assert.Equal(t, "too many", le.Message())

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestRegistry_Conflict(t *testing.T) {
	r := &Registry{codes: make(map[int]string)}
	r.Register(New(30, 1, "x", "a", "A"))
	r.Register(New(30, 1, "x", "a", "A again"))

	assert.Panics(t, func() {
		r.Register(New(30, 1, "x", "b", "B"))
	})
	assert.Len(t, r.GetAll(), 1)
}

func TestGlobalCodesAreRegistered(t *testing.T) {
	codes := GetAllRegisteredCodes()
	assert.Equal(t, "breaker:error.breaker.open", codes[ErrCircuitOpen.Code()])
	assert.Equal(t, "pool:error.pool.closed", codes[ErrPoolClosed.Code()])
}
