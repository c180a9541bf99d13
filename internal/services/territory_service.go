package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/visite/visite-admin/internal/models"
)

// Repository is a UUID-keyed CRUD collection on the backend
type Repository[T any] interface {
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, uuid string) (*T, error)
	Create(ctx context.Context, v *T) (*T, error)
	Update(ctx context.Context, uuid string, v *T) (*T, error)
	Delete(ctx context.Context, uuid string) error
}

// Catalog checks records before handing them to the backend
type Catalog[T any] struct {
	name     string
	repo     Repository[T]
	validate func(*T) error
	logger   zerolog.Logger
}

func NewCatalog[T any](name string, repo Repository[T], validate func(*T) error, logger zerolog.Logger) *Catalog[T] {
	return &Catalog[T]{
		name:     name,
		repo:     repo,
		validate: validate,
		logger:   logger.With().Str("service", name).Logger(),
	}
}

func (c *Catalog[T]) Name() string { return c.name }

func (c *Catalog[T]) List(ctx context.Context) ([]T, error) {
	return c.repo.List(ctx)
}

func (c *Catalog[T]) Get(ctx context.Context, uuid string) (*T, error) {
	return c.repo.Get(ctx, uuid)
}

func (c *Catalog[T]) Create(ctx context.Context, v *T) (*T, error) {
	if err := c.validate(v); err != nil {
		return nil, err
	}
	created, err := c.repo.Create(ctx, v)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Msg("record created")
	return created, nil
}

func (c *Catalog[T]) Update(ctx context.Context, uuid string, v *T) (*T, error) {
	if err := c.validate(v); err != nil {
		return nil, err
	}
	updated, err := c.repo.Update(ctx, uuid, v)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("uuid", uuid).Msg("record updated")
	return updated, nil
}

func (c *Catalog[T]) Delete(ctx context.Context, uuid string) error {
	if err := c.repo.Delete(ctx, uuid); err != nil {
		return err
	}
	c.logger.Info().Str("uuid", uuid).Msg("record deleted")
	return nil
}

// TerritoryService groups the territory and user catalogs
type TerritoryService struct {
	Countries *Catalog[models.Country]
	Provinces *Catalog[models.Province]
	Areas     *Catalog[models.Area]
	Users     *Catalog[models.User]
}

func NewTerritoryService(
	countries Repository[models.Country],
	provinces Repository[models.Province],
	areas Repository[models.Area],
	users Repository[models.User],
	logger zerolog.Logger,
) *TerritoryService {
	return &TerritoryService{
		Countries: NewCatalog("countries", countries, ValidateCountry, logger),
		Provinces: NewCatalog("provinces", provinces, ValidateProvince, logger),
		Areas:     NewCatalog("areas", areas, ValidateArea, logger),
		Users:     NewCatalog("users", users, ValidateUser, logger),
	}
}

type fieldErrors map[string]string

func (f fieldErrors) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = "is required"
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Message: "validation failed", Fields: f}
}

func ValidateCountry(c *models.Country) error {
	errs := fieldErrors{}
	errs.required("name", c.Name)
	return errs.err()
}

func ValidateProvince(p *models.Province) error {
	errs := fieldErrors{}
	errs.required("name", p.Name)
	errs.required("country_uuid", p.CountryUUID)
	return errs.err()
}

func ValidateArea(a *models.Area) error {
	errs := fieldErrors{}
	errs.required("name", a.Name)
	errs.required("province_uuid", a.ProvinceUUID)
	return errs.err()
}

func ValidateUser(u *models.User) error {
	errs := fieldErrors{}
	errs.required("fullname", u.Fullname)
	if !strings.Contains(u.Email, "@") {
		errs["email"] = "must be a valid email address"
	}
	return errs.err()
}
