package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-service/internal/domain"
)

func TestRoles(t *testing.T) {
	a := &domain.Appointment{
		CreatedBy:         1,
		FolderType:        domain.FolderShared,
		SharedFolderOwner: 9,
		Users:             []domain.Attendee{{UserID: 1}, {UserID: 2}},
	}
	assert.Equal(t, []string{RoleCreator, RoleAttendee}, Roles(a, 1))
	assert.Equal(t, []string{RoleAttendee}, Roles(a, 2))
	assert.Equal(t, []string{RoleOwner}, Roles(a, 9))
	assert.Equal(t, []string{RoleOther}, Roles(a, 5))
}

func TestMayMutate(t *testing.T) {
	c, err := NewChecker("")
	require.NoError(t, err)

	private := &domain.Appointment{CreatedBy: 1, FolderType: domain.FolderPrivate, Users: []domain.Attendee{{UserID: 1}, {UserID: 2}}}
	public := &domain.Appointment{CreatedBy: 1, FolderType: domain.FolderPublic}
	shared := &domain.Appointment{CreatedBy: 3, FolderType: domain.FolderShared, SharedFolderOwner: 9}

	tests := []struct {
		name   string
		a      *domain.Appointment
		actor  int64
		action string
		want   bool
	}{
		{"creator deletes private", private, 1, "delete", true},
		{"attendee updates private", private, 2, "update", true},
		{"attendee cannot delete private", private, 2, "delete", false},
		{"stranger cannot touch private", private, 5, "update", false},
		{"stranger creates in public", public, 5, "create", true},
		{"stranger cannot delete public", public, 5, "delete", false},
		{"owner confirms in shared", shared, 9, "confirm", true},
		{"creator updates in shared", shared, 3, "update", true},
		{"creator cannot create in foreign shared", shared, 3, "create", false},
		{"unknown action", private, 1, "drop", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.MayMutate(context.Background(), tt.a, tt.actor, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte("p, other, *, ^update$\n"), 0o600))

	c, err := NewChecker(path)
	require.NoError(t, err)

	a := &domain.Appointment{CreatedBy: 1, FolderType: domain.FolderPrivate}
	ok, err := c.MayMutate(context.Background(), a, 5, "update")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.MayMutate(context.Background(), a, 1, "update")
	require.NoError(t, err)
	assert.False(t, ok)
}
