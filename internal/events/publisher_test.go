package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCreateEvent_JSONMarshaling(t *testing.T) {
	event := &SessionCreateEvent{
		EventID:    uuid.New().String(),
		Timestamp:  time.Now(),
		SessionID:  "sess_abc1234567890123",
		TemplateID: "python-basic",
		Runtime:    RuntimeKubernetes,
		Resources: ResourceSpec{
			Memory: "512Mi",
			CPU:    "1",
		},
		Mode: "ephemeral",
		TemplateConfig: &TemplateConfig{
			Image:       "sandboxctl/python-basic:latest",
			RuntimeType: "python3.11",
		},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var decoded SessionCreateEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, event.SessionID, decoded.SessionID)
	assert.Equal(t, event.TemplateID, decoded.TemplateID)
	assert.Equal(t, event.Runtime, decoded.Runtime)
	assert.Equal(t, event.Resources.Memory, decoded.Resources.Memory)
	require.NotNil(t, decoded.TemplateConfig)
	assert.Equal(t, event.TemplateConfig.Image, decoded.TemplateConfig.Image)
}

func TestSessionDeleteEvent_JSONMarshaling(t *testing.T) {
	event := &SessionDeleteEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		SessionID: "sess_abc1234567890123",
		Runtime:   RuntimeDocker,
		Force:     true,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded SessionDeleteEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event.SessionID, decoded.SessionID)
	assert.True(t, decoded.Force)
}

func TestContainerReadyEvent_JSONMarshaling(t *testing.T) {
	event := &ContainerReadyEvent{
		EventID:      uuid.New().String(),
		Timestamp:    time.Now(),
		SessionID:    "sess_abc1234567890123",
		ContainerID:  "container-1",
		NodeID:       "node-1",
		ExecutorURL:  "http://10.0.0.1:9000",
		ControllerID: "docker-scheduler-01",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded ContainerReadyEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event.ExecutorURL, decoded.ExecutorURL)
	assert.Equal(t, event.ContainerID, decoded.ContainerID)
}

func TestContainerExitedEvent_JSONMarshaling(t *testing.T) {
	event := &ContainerExitedEvent{
		SessionID:   "sess_abc1234567890123",
		ContainerID: "container-1",
		ExitCode:    137,
		Reason:      "OOMKilled",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded ContainerExitedEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 137, decoded.ExitCode)
	assert.Equal(t, "OOMKilled", decoded.Reason)
}

func TestNewPublisher_DisabledWithoutURL(t *testing.T) {
	pub, err := NewPublisher(Config{})
	require.NoError(t, err)
	assert.False(t, pub.IsEnabled())
}

func TestPublisher_PublishIsNoOpWhenDisabled(t *testing.T) {
	pub, err := NewPublisher(Config{})
	require.NoError(t, err)

	err = pub.PublishSessionCreate(context.Background(), SessionCreateEvent{SessionID: "sess_abc1234567890123", Runtime: RuntimeDocker})
	assert.NoError(t, err)
}
