package report

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRound3(t *testing.T) {
	require.Equal(t, 1.235, Round3(1.23456))
	require.Equal(t, -1.235, Round3(-1.23456))
	require.Equal(t, 0.0, Round3(0))
}
