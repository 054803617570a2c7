package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		require.Less(t, prev, next)
		prev = next
	}
}

func TestNewAtCarriesTime(t *testing.T) {
	at := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.Equal(t, at, got)
}

func TestExec(t *testing.T) {
	assert.Equal(t, "RUN.000007", Exec("RUN", 7))
	assert.Less(t, Exec("RUN", 9), Exec("RUN", 10))
}
