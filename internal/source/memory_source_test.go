package source

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySourceReadSeek(t *testing.T) {
	src := NewMemorySource([]byte("0123456789"))
	ctx := context.Background()

	buf := make([]byte, 4)
	n, err := src.Read(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "0123", string(buf))
	require.EqualValues(t, 4, src.Tell())

	require.NoError(t, src.Seek(ctx, 8))
	n, err = src.Read(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "89", string(buf[:n]))

	n, err = src.Read(ctx, buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestMemorySourceSeekOutOfRange(t *testing.T) {
	src := NewMemorySource([]byte("abc"))
	err := src.Seek(context.Background(), 100)
	require.Error(t, err)
}
