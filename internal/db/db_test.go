package db_test

import (
	"testing"

	"github.com/envie2sortir/envie2sortir/internal/db"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"github.com/envie2sortir/envie2sortir/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIdempotent(t *testing.T) {
	conn := testutil.NewDB(t)
	require.NoError(t, db.Seed(conn))

	var roles, tags, perms int64
	conn.Model(&models.Role{}).Count(&roles)
	conn.Model(&models.Tag{}).Count(&tags)
	conn.Model(&models.Permission{}).Count(&perms)
	assert.Equal(t, int64(3), roles)
	assert.Greater(t, tags, int64(10))

	require.NoError(t, db.Seed(conn))
	var perms2, tags2 int64
	conn.Model(&models.Permission{}).Count(&perms2)
	conn.Model(&models.Tag{}).Count(&tags2)
	assert.Equal(t, perms, perms2)
	assert.Equal(t, tags, tags2)
}

func TestSeedRolePermissions(t *testing.T) {
	conn := testutil.NewDB(t)

	var admin models.Role
	require.NoError(t, conn.Preload("Permissions").Where("name = ?", "admin").First(&admin).Error)
	require.Len(t, admin.Permissions, 1)
	assert.Equal(t, "*:*", admin.Permissions[0].Code())

	var pro models.Role
	require.NoError(t, conn.Preload("Permissions").Where("name = ?", "pro").First(&pro).Error)
	codes := make([]string, 0, len(pro.Permissions))
	for _, p := range pro.Permissions {
		codes = append(codes, p.Code())
	}
	assert.Contains(t, codes, "deal:*")
	assert.Contains(t, codes, "establishment:create")
	assert.NotContains(t, codes, "*:*")
}

func TestMigrateAutoPath(t *testing.T) {
	conn := testutil.NewDB(t)
	assert.NoError(t, db.Migrate(conn, false, ""))
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "host=db user=u password=*** dbname=x", db.MaskDSN("host=db user=u password=secret dbname=x"))
	assert.Equal(t, "postgres://u:***@db:5432/x?sslmode=disable", db.MaskDSN("postgres://u:secret@db:5432/x?sslmode=disable"))
}
