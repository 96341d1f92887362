package base

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestMarkCorruptionIsDetectable(t *testing.T) {
	err := MarkCorruption(errors.New("bad header hash"))
	require.True(t, IsCorruption(err))
	require.False(t, IsCorruption(errors.New("bad header hash")))
}

func TestMarkCorruptionSurvivesWrapping(t *testing.T) {
	err := MarkCorruption(errors.New("truncated chunk"))
	wrapped := errors.Wrapf(err, "riegeli: reading chunk")
	require.True(t, IsCorruption(wrapped))
}

func TestMarkCodecAndOverflowAreDistinctFromCorruption(t *testing.T) {
	codecErr := MarkCodec(errors.New("zstd stream error"))
	overflowErr := MarkOverflow(errors.New("record too large"))
	require.False(t, IsCorruption(codecErr))
	require.False(t, IsCorruption(overflowErr))
	require.True(t, errors.Is(codecErr, ErrCodec))
	require.True(t, errors.Is(overflowErr, ErrOverflow))
}
