package xgrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullMethod(t *testing.T) {
	service, method, err := ParseFullMethod("/neighpb.Neighbour/Flush")

	require.NoError(t, err)
	assert.Equal(t, "neighpb.Neighbour", service)
	assert.Equal(t, "Flush", method)
}

func TestParseFullMethod_Malformed(t *testing.T) {
	for _, name := range []string{
		"neighpb.Neighbour/Flush",
		"/neighpb.Neighbour",
		"/neighpb.Neighbour/",
		"//Flush",
		"",
	} {
		t.Run(name, func(t *testing.T) {
			service, method, err := ParseFullMethod(name)

			require.Error(t, err)
			assert.Empty(t, service)
			assert.Empty(t, method)
		})
	}
}
