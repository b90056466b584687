package tui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageWritesToOut(t *testing.T) {
	var out bytes.Buffer
	ch := New(strings.NewReader(""), &out, nil)

	id, err := ch.SendMessage(context.Background(), ChatJID, "hello there")
	require.NoError(t, err)
	assert.Equal(t, "tui-out-1", id)
	assert.Equal(t, "hello there\n", out.String())
}

func TestRunDeliversNonEmptyLinesToHandler(t *testing.T) {
	var out bytes.Buffer
	var received []models.Message
	ch := New(strings.NewReader("hi\n\nsecond line\n"), &out, func(m models.Message) {
		received = append(received, m)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := ch.Run(ctx)
	require.NoError(t, err)

	require.Len(t, received, 2)
	assert.Equal(t, "hi", received[0].Content)
	assert.Equal(t, "second line", received[1].Content)
	assert.Equal(t, ChatJID, received[0].ChatJID)
}

func TestOutboundAllowedOnlyMatchesLocalChatJID(t *testing.T) {
	ch := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	assert.True(t, ch.OutboundAllowed(ChatJID))
	assert.False(t, ch.OutboundAllowed("other"))
}
