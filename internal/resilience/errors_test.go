package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid selector"), false},
		{"explicit", Transient(errors.New("flaky")), true},
		{"wrapped explicit", eris.Wrap(Transient(errors.New("flaky")), "browser: navigate"), true},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"chrome network", errors.New("page load error net::ERR_CONNECTION_RESET"), true},
		{"chrome dns", eris.Wrap(errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), "browser: navigate"), true},
		{"chrome blocked", errors.New("page load error net::ERR_BLOCKED_BY_CLIENT"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransient_Nil(t *testing.T) {
	assert.NoError(t, Transient(nil))
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Transient(inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "inner", err.Error())
}
