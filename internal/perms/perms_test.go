package perms

import (
	"os"
	"testing"

	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/a.txt", []byte("a"), 0o644))

	r := NewReconciler(fs, "/data")
	rec := &manifest.AssetRecord{Path: "a.txt", Permissions: "600"}

	result, err := r.Apply(rec)
	require.NoError(t, err)
	assert.True(t, result.ModeChanged)

	info, err := fs.Stat("/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Second pass is a no-op.
	result, err = r.Apply(rec)
	require.NoError(t, err)
	assert.False(t, result.Changed())
}

func TestApplySetuidAgreesWithDrift(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/bin/tool", []byte("x"), 0o755))

	r := NewReconciler(fs, "/data")
	rec := &manifest.AssetRecord{Path: "bin/tool", Permissions: "4755"}

	result, err := r.Apply(rec)
	require.NoError(t, err)
	assert.True(t, result.ModeChanged)

	info, err := fs.Stat("/data/bin/tool")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755)|os.ModeSetuid, info.Mode()&manifest.ModeMask)
	assert.False(t, plan.PermsDrift(rec, &plan.LocalFile{Path: "bin/tool", Mode: info.Mode()}))

	result, err = r.Apply(rec)
	require.NoError(t, err)
	assert.False(t, result.Changed())
}

func TestApplyWithoutDeclaredMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()

	result, err := NewReconciler(fs, "/data").Apply(&manifest.AssetRecord{Path: "missing.txt"})
	require.NoError(t, err)
	assert.False(t, result.Changed())
}

func TestApplyMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := NewReconciler(fs, "/data").Apply(&manifest.AssetRecord{Path: "missing.txt", Permissions: "644"})
	assert.Equal(t, syncerr.KindPermissionApply, syncerr.KindOf(err))
}

func TestApplyOwnershipRequiresPrivileges(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/a.txt", []byte("a"), 0o644))

	uid := uint32(12345)
	rec := &manifest.AssetRecord{Path: "a.txt", Permissions: "640", UID: &uid}

	result, err := NewReconciler(fs, "/data").WithPrivileged(false).Apply(rec)
	assert.Equal(t, syncerr.KindPermissionApply, syncerr.KindOf(err))

	// The mode is still applied before the ownership failure.
	assert.True(t, result.ModeChanged)
	info, statErr := fs.Stat("/data/a.txt")
	require.NoError(t, statErr)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	result, err = NewReconciler(fs, "/data").WithPrivileged(true).Apply(rec)
	require.NoError(t, err)
	assert.True(t, result.OwnerChanged)
}

func TestApplyRejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := NewReconciler(fs, "/data").Apply(&manifest.AssetRecord{Path: "../etc/passwd", Permissions: "777"})
	assert.Equal(t, syncerr.KindPathTraversal, syncerr.KindOf(err))
}

func TestReconcileOutcomes(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/ok.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/drift.txt", []byte("b"), 0o644))

	r := NewReconciler(fs, "/data").WithPrivileged(false)

	items := []*plan.Item{
		{Path: "ok.txt", Action: plan.ActionCreate, Record: &manifest.AssetRecord{Path: "ok.txt", Permissions: "600"}},
		{Path: "failed.txt", Action: plan.ActionCreate, Record: &manifest.AssetRecord{Path: "failed.txt", Permissions: "600"}},
	}
	outcomes := []report.Outcome{
		{Path: "ok.txt", Action: plan.ActionCreate, Status: report.StatusSuccess},
		{Path: "failed.txt", Action: plan.ActionCreate, Status: report.StatusFailed},
	}

	r.Reconcile(items, outcomes)
	assert.Equal(t, report.PermsFixed, outcomes[0].Perms)
	assert.Equal(t, report.PermsNone, outcomes[1].Perms)

	drift := r.ReconcileDrift([]*plan.Item{
		{Path: "drift.txt", Action: plan.ActionNoop, PermsDrift: true, Record: &manifest.AssetRecord{Path: "drift.txt", Permissions: "640"}},
		{Path: "ok.txt", Action: plan.ActionNoop, Record: &manifest.AssetRecord{Path: "ok.txt"}},
	})
	require.Len(t, drift, 2)
	assert.Equal(t, report.PermsFixed, drift[0].Perms)
	assert.Equal(t, report.StatusSkipped, drift[0].Status)
	assert.Equal(t, report.PermsNone, drift[1].Perms)
}
