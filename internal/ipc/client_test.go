package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do_RoundTripsPing(t *testing.T) {
	_, sockPath := startTestHub(t, &fakeBackend{})

	client := NewClient(sockPath)
	resp, err := client.Do(Request{Ping: &struct{}{}})
	require.NoError(t, err)
	assert.Nil(t, resp.Err)
}

func TestClient_Do_SurfacesBackendError(t *testing.T) {
	_, sockPath := startTestHub(t, &fakeBackend{})

	client := NewClient(sockPath)
	resp, err := client.Do(Request{RoomCreate: &RoomCreateRequest{Name: "bad"}})
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
	assert.Equal(t, "ValidationError", resp.Err.Kind)
}
