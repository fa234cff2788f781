package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvatarSet(t *testing.T) {
	assert.Equal(t, 34, NumAvatars)
	assert.Len(t, Avatars(), NumAvatars)
	assert.Equal(t, "life-in-the-balance", Avatar(0).String())
	assert.Equal(t, "maggot", Avatars()[NumAvatars-1].String())
	assert.False(t, Avatar(NumAvatars).Valid())
}

func TestParseAvatarForms(t *testing.T) {
	cases := []string{"grim-reaper", "grim-reaper.png", "GrimReaper", "grimReaper"}
	want, err := ParseAvatar("grim-reaper")
	require.NoError(t, err)
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseAvatar(name)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
	assert.Equal(t, "GrimReaper", want.Key())
	assert.Equal(t, "grim-reaper.png", want.File())
}

func TestAvatarKeysRoundTrip(t *testing.T) {
	for _, a := range Avatars() {
		got, err := ParseAvatar(a.Key())
		require.NoError(t, err, a.Key())
		assert.Equal(t, a, got)
	}
}

func TestParseAvatarRejectsUnknown(t *testing.T) {
	for _, name := range []string{"", "dragon", "grim-reaper.gif"} {
		_, err := ParseAvatar(name)
		assert.ErrorIs(t, err, ErrInvalidAvatar, name)
	}
}

func TestStatusNames(t *testing.T) {
	for st := StatusWaitingForParticipants; st <= StatusCompleted; st++ {
		parsed, err := ParseStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}
	assert.Equal(t, "waitForMinting", StatusWaitForMinting.String())
	assert.True(t, StatusCompleted.Terminal())
	_, ok := GameFlow[StatusCompleted]
	assert.False(t, ok)
}
