package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStaticRoster_Symmetric(t *testing.T) {
	t.Parallel()

	data := []byte(`
trainers:
  - id: t-1
    display_name: "  Coach   Kim "
    clients:
      - id: c-2
        display_name: Ben
      - id: c-1
        display_name: Ana
`)

	r, err := ParseStaticRoster(data)
	require.NoError(t, err)

	ctx := context.Background()

	clients, err := r.Counterparts(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, []Participant{
		{ID: "c-1", DisplayName: "Ana"},
		{ID: "c-2", DisplayName: "Ben"},
	}, clients)

	trainers, err := r.Counterparts(ctx, "c-2")
	require.NoError(t, err)
	require.Equal(t, []Participant{{ID: "t-1", DisplayName: "Coach Kim"}}, trainers)

	none, err := r.Counterparts(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStaticRoster_AssignSelfClientLeavesRosterUntouched(t *testing.T) {
	t.Parallel()

	r := NewStaticRoster()
	kim := Participant{ID: "t-1", DisplayName: "Coach Kim"}
	ana := Participant{ID: "c-1", DisplayName: "Ana"}

	err := r.Assign(kim, ana, kim)
	require.True(t, IsInvalidInput(err), "got %v", err)

	_, ok := r.Lookup(kim.ID)
	require.False(t, ok)
	_, ok = r.Lookup(ana.ID)
	require.False(t, ok)

	got, err := r.Counterparts(context.Background(), kim.ID)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParseStaticRoster_RejectsBadIDs(t *testing.T) {
	t.Parallel()

	cases := []string{
		"trainers: [{id: 'a_b', clients: []}]",
		"trainers: [{id: t-1, clients: [{id: 'x:y'}]}]",
		"trainers: [{id: t-1, clients: [{id: t-1}]}]",
		"trainers: {",
	}
	for _, in := range cases {
		_, err := ParseStaticRoster([]byte(in))
		require.Error(t, err, in)
		require.True(t, IsInvalidInput(err), "want invalid input for %q, got %v", in, err)
	}
}

func TestValidParticipantID(t *testing.T) {
	t.Parallel()

	ok := []string{"a", "01HZX3Q7Y7M7V4E0W9Q1S6ZK3A", "c-1", "d9b2f6e4-9a1c-4c55-8d0c-1a2b3c4d5e6f"}
	bad := []string{"", "-a", "a_b", "a:b", "a.b", "a b"}

	for _, s := range ok {
		require.True(t, ValidParticipantID(s), s)
	}
	for _, s := range bad {
		require.False(t, ValidParticipantID(s), s)
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, RoleTrainer, ParseRole(" Trainer "))
	require.Equal(t, RoleClient, ParseRole("client"))
	require.Equal(t, Role(""), ParseRole("admin"))
}
