package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReplicaURLs(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, ParseReplicaURLs(""))
	})

	t.Run("single", func(t *testing.T) {
		urls := ParseReplicaURLs("postgres://replica1/db")
		assert.Equal(t, []string{"postgres://replica1/db"}, urls)
	})

	t.Run("multiple with whitespace", func(t *testing.T) {
		urls := ParseReplicaURLs(" postgres://replica1/db , postgres://replica2/db ,")
		assert.Equal(t, []string{"postgres://replica1/db", "postgres://replica2/db"}, urls)
	})
}
