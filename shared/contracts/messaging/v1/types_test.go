package v1

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Envelope{V: Version, Type: TypeSearchUpdate}.Validate())
	require.Error(t, Envelope{Type: TypeHello}.Validate())
	require.Error(t, Envelope{V: "v2", Type: TypeHello}.Validate())
	require.Error(t, Envelope{V: Version}.Validate())
	require.Error(t, Envelope{V: Version, Type: "conversation_join"}.Validate())
}
