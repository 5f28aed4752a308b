package libav

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/hwve/backend"
)

func TestPackPlanes(t *testing.T) {
	dstLinesize := make([]int, backend.NumDataPointers)
	dstLinesize[0] = 4
	dstLinesize[1] = 4

	t.Run("strips source row padding", func(t *testing.T) {
		var data backend.FrameData
		data.Data[0] = []byte{
			1, 2, 3, 4, 0xff,
			5, 6, 7, 8, 0xff,
		}
		data.Linesize[0] = 5

		packed, err := packPlanes(data, dstLinesize)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, packed)
	})

	t.Run("pads rows narrower than the destination", func(t *testing.T) {
		var data backend.FrameData
		data.Data[0] = []byte{1, 2, 3, 4, 5, 6}
		data.Linesize[0] = 3

		packed, err := packPlanes(data, dstLinesize)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3, 0, 4, 5, 6, 0}, packed)
	})

	t.Run("multiple planes", func(t *testing.T) {
		var data backend.FrameData
		data.Data[0] = []byte{1, 2, 3, 4, 5, 6, 7, 8}
		data.Linesize[0] = 4
		data.Data[1] = []byte{9, 10, 11, 12}
		data.Linesize[1] = 4

		packed, err := packPlanes(data, dstLinesize)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, packed)
	})

	t.Run("rejects a plane with a partial trailing row", func(t *testing.T) {
		var data backend.FrameData
		data.Data[0] = []byte{1, 2, 3, 4, 5, 6, 7}
		data.Linesize[0] = 4

		_, err := packPlanes(data, dstLinesize)
		require.Error(t, err)
		require.Contains(t, err.Error(), "whole number")
	})

	t.Run("rejects a plane without a linesize", func(t *testing.T) {
		var data backend.FrameData
		data.Data[0] = []byte{1, 2, 3, 4}

		_, err := packPlanes(data, dstLinesize)
		require.Error(t, err)
	})

	t.Run("rejects an empty frame", func(t *testing.T) {
		var data backend.FrameData
		_, err := packPlanes(data, dstLinesize)
		require.Error(t, err)
	})
}
