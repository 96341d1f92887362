package highway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash64IsDeterministic(t *testing.T) {
	data := []byte("riegeli")
	require.Equal(t, Hash64(data), Hash64(data))
}

func TestHash64DistinguishesInputs(t *testing.T) {
	require.NotEqual(t, Hash64([]byte("a")), Hash64([]byte("b")))
}

func TestHash64OfEmptyInput(t *testing.T) {
	require.Equal(t, Hash64(nil), Hash64([]byte{}))
}
