package policy

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/internal/models"
)

// DBRoleResolver builds a user's profile from the roles table. The role is
// read from the user row, not the session, so a role change applies as soon
// as the cached profile is invalidated.
type DBRoleResolver struct {
	DB *gorm.DB
}

func NewDBRoleResolver(db *gorm.DB) *DBRoleResolver {
	return &DBRoleResolver{DB: db}
}

// Resolve returns nil when the user or its role no longer exists.
func (r *DBRoleResolver) Resolve(ctx context.Context, s gate.Subject) (gate.Profile, error) {
	var user models.User
	err := r.DB.WithContext(ctx).Select("id", "role").First(&user, s.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var role models.Role
	err = r.DB.WithContext(ctx).Preload("Permissions").Where("name = ?", user.Role).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	perms := make([]gate.Permission, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		perms = append(perms, gate.NewPermission(p.ResourceType, gate.Action(p.Action)))
	}
	return gate.NewRoleProfile(role.Name, perms...), nil
}
