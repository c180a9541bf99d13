package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/visite/visite-admin/internal/models"
)

// Resource is a UUID-keyed CRUD collection on the backend
type Resource[T any] struct {
	client *Client
	path   string
}

func (r Resource[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	if err := r.client.do(ctx, http.MethodGet, r.path+"/all", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Resource[T]) Get(ctx context.Context, uuid string) (*T, error) {
	var out T
	if err := r.client.do(ctx, http.MethodGet, r.path+"/get/"+url.PathEscape(uuid), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r Resource[T]) Create(ctx context.Context, v *T) (*T, error) {
	var out T
	if err := r.client.do(ctx, http.MethodPost, r.path+"/create", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r Resource[T]) Update(ctx context.Context, uuid string, v *T) (*T, error) {
	var out T
	if err := r.client.do(ctx, http.MethodPut, r.path+"/update/"+url.PathEscape(uuid), v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r Resource[T]) Delete(ctx context.Context, uuid string) error {
	return r.client.do(ctx, http.MethodDelete, r.path+"/delete/"+url.PathEscape(uuid), nil, nil)
}

func (c *Client) Countries() Resource[models.Country] {
	return Resource[models.Country]{client: c, path: "/countries"}
}

func (c *Client) Provinces() Resource[models.Province] {
	return Resource[models.Province]{client: c, path: "/provinces"}
}

func (c *Client) Areas() Resource[models.Area] {
	return Resource[models.Area]{client: c, path: "/areas"}
}

func (c *Client) Users() Resource[models.User] {
	return Resource[models.User]{client: c, path: "/users"}
}
