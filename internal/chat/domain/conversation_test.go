package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversation_Participants(t *testing.T) {
	c := &Conversation{ID: "c1", IsGroup: true, ParticipantIDs: []string{"u1", "u2", "u3"}}

	assert.Equal(t, []string{"u2", "u3"}, c.OtherParticipants("u1"))
	assert.Equal(t, []string{"u1", "u2", "u3"}, c.OtherParticipants("stranger"))
	assert.True(t, c.HasParticipant("u2"))
	assert.False(t, c.HasParticipant("u4"))
	assert.False(t, c.HasParticipant(""))

	empty := &Conversation{ID: "c2"}
	assert.Empty(t, empty.OtherParticipants("u1"))
	assert.False(t, empty.HasParticipant("u1"))
}
