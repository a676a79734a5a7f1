package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/broadcaster/pkg/dlt"
	"github.com/codeready-toolchain/broadcaster/pkg/health"
	"github.com/codeready-toolchain/broadcaster/pkg/inbox"
)

func TestServer_ValidateWiring(t *testing.T) {
	t.Run("all services wired", func(t *testing.T) {
		s := &Server{
			dltService:    &dlt.Service{},
			inboxService:  &inbox.Service{},
			healthChecker: &health.Checker{},
		}
		assert.NoError(t, s.ValidateWiring())
	})

	t.Run("no services wired", func(t *testing.T) {
		s := &Server{}
		err := s.ValidateWiring()
		require.Error(t, err)

		msg := err.Error()
		assert.Contains(t, msg, "server wiring incomplete")
		assert.Contains(t, msg, "dltService")
		assert.Contains(t, msg, "inboxService")
		assert.Contains(t, msg, "healthChecker")
		assert.Equal(t, 3, strings.Count(msg, "not set"))
	})

	t.Run("partial wiring reports only missing", func(t *testing.T) {
		s := &Server{
			dltService: &dlt.Service{},
		}
		err := s.ValidateWiring()
		require.Error(t, err)

		msg := err.Error()
		assert.Contains(t, msg, "inboxService")
		assert.Contains(t, msg, "healthChecker")
		assert.NotContains(t, msg, "dltService not set")
	})
}
