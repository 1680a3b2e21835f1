package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		expected Type
		wantErr  bool
	}{
		{
			name:     "valid joint update",
			frame:    `{"type":"joint_update","data":[{"name":"shoulder","value":1.5}]}`,
			expected: TypeJointUpdate,
		},
		{
			name:     "valid heartbeat",
			frame:    `{"type":"heartbeat"}`,
			expected: TypeHeartbeat,
		},
		{
			name:    "invalid json",
			frame:   `{"type":`,
			wantErr: true,
		},
		{
			name:    "missing type field",
			frame:   `{"data":[]}`,
			wantErr: true,
		},
		{
			name:    "non-string type",
			frame:   `{"type":42}`,
			wantErr: true,
		},
		{
			name:    "empty type",
			frame:   `{"type":""}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekType([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecodeJointUpdate(t *testing.T) {
	frame := []byte(`{"type":"joint_update","data":[{"name":"elbow","value":0.25,"speed":1.0},{"name":"wrist","value":-0.5}]}`)

	var update JointUpdate
	require.NoError(t, Decode(frame, &update))

	require.Len(t, update.Data, 2)
	assert.Equal(t, "elbow", update.Data[0].Name)
	assert.Equal(t, 0.25, update.Data[0].Value)
	require.NotNil(t, update.Data[0].Speed)
	assert.Equal(t, 1.0, *update.Data[0].Speed)
	assert.Nil(t, update.Data[1].Speed)
}

func TestEncodeStateSync(t *testing.T) {
	data, err := Encode(StateSync{
		Type:      TypeStateSync,
		Data:      map[string]float64{"base": 0.1},
		Timestamp: Timestamp(),
	})
	require.NoError(t, err)

	tag, err := PeekType(data)
	require.NoError(t, err)
	assert.Equal(t, TypeStateSync, tag)
}

func TestVideoConfigApply(t *testing.T) {
	cfg := DefaultVideoConfig()
	assert.Equal(t, "vp8", cfg.Encoding)
	assert.Equal(t, 640, cfg.Resolution.Width)

	framerate := 60
	cfg.Apply(VideoConfigPatch{Framerate: &framerate})

	assert.Equal(t, 60, cfg.Framerate)
	// Untouched fields keep their values.
	assert.Equal(t, "vp8", cfg.Encoding)
	assert.Equal(t, 1_000_000, cfg.Bitrate)
}

func TestVideoConfigApplyFromWire(t *testing.T) {
	var patch VideoConfigPatch
	require.NoError(t, json.Unmarshal([]byte(`{"encoding":"h264","resolution":{"width":1280,"height":720}}`), &patch))

	cfg := DefaultVideoConfig()
	cfg.Apply(patch)

	assert.Equal(t, "h264", cfg.Encoding)
	assert.Equal(t, Resolution{Width: 1280, Height: 720}, cfg.Resolution)
	assert.Equal(t, 30, cfg.Framerate)
}
