package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/queue"
)

func TestUploadReading(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	body := map[string]any{"device": env.device.ID, "temperature": 35.5, "humidity": 40}
	rec := env.do(http.MethodPost, "/api/monitoring/upload/", body, env.alice)
	requireStatus(t, rec, http.StatusCreated)

	resp := decode[UploadResponse](t, rec)
	require.NotZero(t, resp.DataID)
	assert.NotEmpty(t, resp.Message)

	reading, err := env.readings.GetReading(context.Background(), resp.DataID)
	require.NoError(t, err)
	require.NotNil(t, reading.Temperature)
	assert.InDelta(t, 35.5, *reading.Temperature, 1e-9)
	assert.Nil(t, reading.Pressure)

	require.Equal(t, 1, env.tasks.count())
	assert.Equal(t, queue.TaskEvaluateReading, env.tasks.tasks[0].Type)

	device, err := env.devices.GetDevice(context.Background(), env.device.ID)
	require.NoError(t, err)
	assert.NotNil(t, device.LastActive)
}

func TestUploadReadingRejects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing device", map[string]any{"temperature": 20}},
		{"unknown device", map[string]any{"device": 9999, "temperature": 20}},
		{"offline device", map[string]any{"device": env.offline.ID, "temperature": 20}},
		{"device of another user", map[string]any{"device": env.bobDevice.ID, "temperature": 45}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/monitoring/upload", tt.body, env.alice)
			requireStatus(t, rec, http.StatusBadRequest)
			assert.Equal(t, "device", decode[ErrorResponse](t, rec).Field)
		})
	}
	assert.Zero(t, env.tasks.count())

	stored, total, err := env.readings.ListReadings(context.Background(), repository.ReadingFilter{OwnerID: env.bob.ID})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, stored)

	device, err := env.devices.GetDevice(context.Background(), env.bobDevice.ID)
	require.NoError(t, err)
	assert.Nil(t, device.LastActive)
}

func TestUploadReadingOwnDeviceOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.hotRule(env.bobDevice, env.bob)

	body := map[string]any{"device": env.bobDevice.ID, "temperature": 45}
	requireStatus(t, env.do(http.MethodPost, "/api/monitoring/upload", body, env.alice), http.StatusBadRequest)
	assert.Zero(t, env.tasks.count())

	requireStatus(t, env.do(http.MethodPost, "/api/monitoring/upload", body, env.bob), http.StatusCreated)
	assert.Equal(t, 1, env.tasks.count())
}

func TestUploadRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(o *Options) {
		o.UploadRateLimit = 0.001
		o.UploadBurst = 1
	})

	body := map[string]any{"device": env.device.ID, "temperature": 21}
	requireStatus(t, env.do(http.MethodPost, "/api/monitoring/upload", body, env.alice), http.StatusCreated)
	requireStatus(t, env.do(http.MethodPost, "/api/monitoring/upload", body, env.alice), http.StatusTooManyRequests)
}
