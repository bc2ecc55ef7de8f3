package stor_test

import (
	"errors"
	"testing"

	"github.com/modvault/modvault/pkg/moddb/moddbtest"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/modvault/modvault/pkg/moddb/stor"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateModDisambiguatesSlug(t *testing.T) {
	f := moddbtest.NewFixture(t)

	second, err := f.Stors.ModStor.CreateMod(&modmodel.Mod{Name: "Better Trees", OwnerID: f.Owner.ID})
	require.NoError(t, err)
	third, err := f.Stors.ModStor.CreateMod(&modmodel.Mod{Name: "Better  Trees!", OwnerID: f.Owner.ID})
	require.NoError(t, err)

	require.Equal(t, "better-trees", f.Mod.Slug)
	require.Equal(t, "better-trees-1", second.Slug)
	require.Equal(t, "better-trees-2", third.Slug)

	ids, err := f.Stors.ModStor.GetModIDsForUser(f.Owner.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{f.Mod.ID, second.ID, third.ID}, ids)
}

func TestUserCanModifyMod(t *testing.T) {
	f := moddbtest.NewFixture(t)

	var tests = []struct {
		name     string
		user     *modmodel.User
		expected bool
	}{
		{name: "owner", user: f.Owner, expected: true},
		{name: "admin", user: f.Admin, expected: true},
		{name: "stranger", user: f.Stranger, expected: false},
		{name: "nil user", user: nil, expected: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ok, err := f.Stors.ModStor.UserCanModifyMod(test.user, f.Mod.ID)
			require.NoError(t, err)
			require.Equal(t, test.expected, ok)
		})
	}

	_, err := f.Stors.ModStor.UserCanModifyMod(f.Owner, 9999)
	require.ErrorIs(t, err, stor.ErrNotFound)
}

func TestModFileSizes(t *testing.T) {
	f := moddbtest.NewFixture(t)
	otherMod, err := f.Stors.ModStor.CreateMod(&modmodel.Mod{Name: "Rivers", OwnerID: f.Owner.ID})
	require.NoError(t, err)
	strangerMod, err := f.Stors.ModStor.CreateMod(&modmodel.Mod{Name: "Not Mine", OwnerID: f.Stranger.ID})
	require.NoError(t, err)

	files := []modmodel.ModFile{
		{ModID: f.Mod.ID, Type: "resource", Name: "trees.zip", Size: 100},
		{ModID: f.Mod.ID, Type: "image", Name: "trees.png", Size: 20},
		{ModID: otherMod.ID, Type: "resource", Name: "rivers.zip", Size: 5},
		{ModID: strangerMod.ID, Type: "resource", Name: "other.zip", Size: 1000},
	}
	for i := range files {
		_, err := f.Stors.ModFileStor.CreateModFile(&files[i])
		require.NoError(t, err)
		require.NotEmpty(t, files[i].UUID)
	}

	modTotal, err := f.Stors.ModFileStor.TotalSizeForMod(f.Mod.ID)
	require.NoError(t, err)
	require.Equal(t, int64(120), modTotal)

	userTotal, err := f.Stors.ModFileStor.TotalSizeForUser(f.Owner.ID)
	require.NoError(t, err)
	require.Equal(t, int64(125), userTotal)

	emptyTotal, err := f.Stors.ModFileStor.TotalSizeForUser(f.Admin.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), emptyTotal)

	exists, err := f.Stors.ModFileStor.ModFileNameExists(f.Mod.ID, "resource", "trees.zip")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = f.Stors.ModFileStor.ModFileNameExists(f.Mod.ID, "image", "trees.zip")
	require.NoError(t, err)
	require.False(t, exists)

	listed, err := f.Stors.ModFileStor.ListModFiles(f.Mod.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	got, err := f.Stors.ModFileStor.GetModFileByID(f.Mod.ID, files[0].ID)
	require.NoError(t, err)
	require.Equal(t, "trees.zip", got.Name)

	// A file of another mod is not visible through this mod.
	_, err = f.Stors.ModFileStor.GetModFileByID(f.Mod.ID, files[2].ID)
	require.ErrorIs(t, err, stor.ErrNotFound)

	require.NoError(t, f.Stors.ModFileStor.DeleteModFile(&files[0]))
	modTotal, err = f.Stors.ModFileStor.TotalSizeForMod(f.Mod.ID)
	require.NoError(t, err)
	require.Equal(t, int64(20), modTotal)
}

func TestGetUserByAPIToken(t *testing.T) {
	f := moddbtest.NewFixture(t)

	user, err := f.Stors.UserStor.GetUserByAPIToken("owner-token")
	require.NoError(t, err)
	require.Equal(t, f.Owner.ID, user.ID)
	require.Equal(t, "mod-owner", user.Slug)

	_, err = f.Stors.UserStor.GetUserByAPIToken("")
	require.ErrorIs(t, err, stor.ErrNotFound)

	_, err = f.Stors.UserStor.GetUserByAPIToken("nope")
	require.ErrorIs(t, err, stor.ErrNotFound)
}

func TestWithTxRetryStopsOnPermanentError(t *testing.T) {
	f := moddbtest.NewFixture(t)
	errBoom := errors.New("boom")

	calls := 0
	err := stor.WithTxRetry(f.DB, func(tx *gorm.DB) error {
		calls++
		return stor.Permanent(errBoom)
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)

	calls = 0
	err = stor.WithTxRetry(f.DB, func(tx *gorm.DB) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 3, calls)
}
