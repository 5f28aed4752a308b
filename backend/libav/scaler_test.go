package libav

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/hwve/backend"
)

func TestScaleDescription(t *testing.T) {
	params := backend.ScaleParams{
		SrcWidth:  1920,
		SrcHeight: 1080,
		DstWidth:  1280,
		DstHeight: 720,
		Framerate: 30,
	}

	tests := []struct {
		deviceType astiav.HardwareDeviceType
		expected   string
	}{
		{astiav.HardwareDeviceTypeVAAPI, "[in]scale_vaapi=w=1280:h=720[out]"},
		{astiav.HardwareDeviceTypeCUDA, "[in]scale_cuda=w=1280:h=720[out]"},
		{astiav.HardwareDeviceTypeQSV, "[in]scale_qsv=w=1280:h=720[out]"},
	}

	for _, tt := range tests {
		t.Run(tt.deviceType.String(), func(t *testing.T) {
			description, err := scaleDescription(tt.deviceType, params)
			require.NoError(t, err)
			require.Equal(t, tt.expected, description)
		})
	}

	_, err := scaleDescription(astiav.HardwareDeviceTypeDRM, params)
	require.Error(t, err)
}
