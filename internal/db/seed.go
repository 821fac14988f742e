package db

import (
	"embed"
	"fmt"

	"github.com/envie2sortir/envie2sortir/gate"
	"github.com/envie2sortir/envie2sortir/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed seeds/*.yaml
var seedFiles embed.FS

type roleSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type tagSeed struct {
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Category string `yaml:"category"`
}

func readSeed(name string, dst any) error {
	raw, err := seedFiles.ReadFile("seeds/" + name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Seed inserts roles, permissions and the tag catalog. Running it twice
// changes nothing.
func Seed(conn *gorm.DB) error {
	return conn.Transaction(func(tx *gorm.DB) error {
		if err := SeedRoles(tx); err != nil {
			return err
		}
		return SeedTags(tx)
	})
}

// SeedRoles makes each role's permission set match roles.yaml exactly.
func SeedRoles(conn *gorm.DB) error {
	var file struct {
		Roles []roleSeed `yaml:"roles"`
	}
	if err := readSeed("roles.yaml", &file); err != nil {
		return err
	}
	for _, rs := range file.Roles {
		perms := make([]models.Permission, 0, len(rs.Permissions))
		for _, code := range rs.Permissions {
			p, err := gate.ParsePermission(code)
			if err != nil {
				return fmt.Errorf("role %s: %w", rs.Name, err)
			}
			perm := models.Permission{ResourceType: p.Resource(), Action: string(p.Action())}
			if err := conn.Where("resource_type = ? AND action = ?", perm.ResourceType, perm.Action).
				FirstOrCreate(&perm).Error; err != nil {
				return err
			}
			perms = append(perms, perm)
		}
		role := models.Role{Name: rs.Name}
		if err := conn.Where("name = ?", rs.Name).
			Attrs(models.Role{Description: rs.Description}).
			FirstOrCreate(&role).Error; err != nil {
			return err
		}
		if err := conn.Model(&role).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("role %s permissions: %w", rs.Name, err)
		}
	}
	return nil
}

func SeedTags(conn *gorm.DB) error {
	var file struct {
		Tags []tagSeed `yaml:"tags"`
	}
	if err := readSeed("tags.yaml", &file); err != nil {
		return err
	}
	for _, ts := range file.Tags {
		tag := models.Tag{}
		if err := conn.Where("slug = ?", ts.Slug).
			Attrs(models.Tag{Name: ts.Name, Slug: ts.Slug, Category: ts.Category}).
			FirstOrCreate(&tag).Error; err != nil {
			return err
		}
	}
	return nil
}
