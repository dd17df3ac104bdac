package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/connectnow/internal/ai"
)

type fakeGenerator struct {
	chatIn ai.ChatInput
	err    error
}

func (f *fakeGenerator) ChatReply(_ context.Context, in ai.ChatInput) (*ai.Reply, error) {
	f.chatIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Reply{AuthorID: in.Participant.ID, Text: "reply to " + in.NewMessage}, nil
}

func (f *fakeGenerator) ProfileSuggestions(_ context.Context, _ ai.ProfileInput) (*ai.Suggestions, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Suggestions{Photo: "p", Description: "d", Overall: "o"}, nil
}

func (f *fakeGenerator) GenerateReel(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "data:video/mp4;base64,AAAA", nil
}

func TestAssistantChatReply(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	me, other := e.user(t, "me"), e.user(t, "other")
	conv, err := e.messaging.OpenOrCreate(ctx, me.ID, other.ID)
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := e.messaging.SendMessage(ctx, conv.ID, me.ID, text)
		require.NoError(t, err)
	}

	gen := &fakeGenerator{}
	svc := NewAssistantService(gen, e.messaging, e.users, 2)

	res, err := svc.ChatReply(ctx, conv.ID, me.ID, "hello")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, other.ID, res.Data.AuthorID)
	assert.NotEmpty(t, res.Data.Text)
	assert.Len(t, gen.chatIn.History, 2)
	assert.Equal(t, me.ID, gen.chatIn.CurrentUser.ID)
	assert.Equal(t, "other bio", gen.chatIn.Participant.Description)

	outsider := e.user(t, "outsider")
	_, err = svc.ChatReply(ctx, conv.ID, outsider.ID, "hello")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestAssistantChatReplyEmptyHistory(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	me, other := e.user(t, "me"), e.user(t, "other")
	conv, err := e.messaging.OpenOrCreate(ctx, me.ID, other.ID)
	require.NoError(t, err)

	gen := &fakeGenerator{}
	res, err := NewAssistantService(gen, e.messaging, e.users, 20).ChatReply(ctx, conv.ID, me.ID, "hello")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, gen.chatIn.History)
	assert.Equal(t, other.ID, res.Data.AuthorID)
}

func TestAssistantWrapsFailures(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	me, other := e.user(t, "me"), e.user(t, "other")
	conv, err := e.messaging.OpenOrCreate(ctx, me.ID, other.ID)
	require.NoError(t, err)

	gen := &fakeGenerator{err: errors.New("model unavailable")}
	svc := NewAssistantService(gen, e.messaging, e.users, 20)

	chat, err := svc.ChatReply(ctx, conv.ID, me.ID, "hi")
	require.NoError(t, err)
	assert.False(t, chat.Success)
	assert.Equal(t, "model unavailable", chat.Error)

	sug := svc.AnalyzeProfile(ctx, ai.ProfileInput{})
	assert.False(t, sug.Success)
	assert.Nil(t, sug.Data)

	reel := svc.CreateReel(ctx, "waves")
	assert.False(t, reel.Success)
	assert.Empty(t, reel.Data)

	gen.err = &ai.FetchError{Status: 404}
	reel = svc.CreateReel(ctx, "waves")
	assert.Equal(t, "failed to fetch video: status 404", reel.Error)

	gen.err = nil
	reel = svc.CreateReel(ctx, "waves")
	assert.True(t, reel.Success)
	assert.Equal(t, "data:video/mp4;base64,AAAA", reel.Data)
}
