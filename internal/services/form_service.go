package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/visite/visite-admin/internal/forms"
	"github.com/visite/visite-admin/internal/metrics"
	"github.com/visite/visite-admin/internal/models"
)

var ErrFormNotFound = errors.New("form not found")

// FormSource is the part of the backend that serves form definitions
type FormSource interface {
	ListForms(ctx context.Context) ([]models.Form, error)
	FormItems(ctx context.Context, formUUID string) ([]models.FormItem, error)
}

type FormService struct {
	source FormSource
	logger zerolog.Logger
}

func NewFormService(source FormSource, logger zerolog.Logger) *FormService {
	return &FormService{
		source: source,
		logger: logger.With().Str("service", "forms").Logger(),
	}
}

// GetAvailableForms lists the forms a field agent can fill
func (fs *FormService) GetAvailableForms(ctx context.Context) ([]models.Form, error) {
	defer metrics.ObserveBackend("list_forms", time.Now())

	list, err := fs.source.ListForms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	return list, nil
}

// GetDefinition fetches and parses a form with its items
func (fs *FormService) GetDefinition(ctx context.Context, formUUID string) (*forms.Definition, error) {
	form := models.Form{UUID: formUUID}

	list, err := fs.GetAvailableForms(ctx)
	if err != nil {
		// Items are served publicly, the title is only cosmetic
		fs.logger.Warn().Err(err).Str("form", formUUID).Msg("form list unavailable, continuing without metadata")
	} else {
		found := false
		for _, f := range list {
			if f.UUID == formUUID {
				form, found = f, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrFormNotFound, formUUID)
		}
	}

	start := time.Now()
	items, err := fs.source.FormItems(ctx, formUUID)
	metrics.ObserveBackend("form_items", start)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items of form %s: %w", formUUID, err)
	}

	def, err := forms.Parse(form, items)
	if err != nil {
		return nil, fmt.Errorf("failed to parse form %s: %w", formUUID, err)
	}

	for _, item := range def.Items {
		if d := forms.Describe(item.Field); d.Warning != "" {
			fs.logger.Warn().Str("form", formUUID).Str("item", item.UUID).Msg(d.Warning)
		}
	}

	fs.logger.Debug().Str("form", formUUID).Int("items", len(def.Items)).Msg("form definition loaded")
	return def, nil
}

// FormView is a parsed form with every conditional group listed under its
// trigger value
type FormView struct {
	Form  models.Form    `json:"form"`
	Items []FormItemView `json:"items"`
}

type FormItemView struct {
	ItemView
	Groups map[string][]SubFieldView `json:"groups,omitempty"`
}

// GetFormView describes a form for clients rendering it
func (fs *FormService) GetFormView(ctx context.Context, formUUID string) (*FormView, error) {
	def, err := fs.GetDefinition(ctx, formUUID)
	if err != nil {
		return nil, err
	}

	fv := &FormView{Form: def.Form, Items: make([]FormItemView, 0, len(def.Items))}
	for _, item := range def.Items {
		iv := FormItemView{ItemView: ItemView{
			UUID:     item.UUID,
			Question: item.Question,
			Type:     item.Type,
			Required: item.Required,
			Field:    forms.Describe(item.Field),
		}}
		for _, trigger := range item.Conditional.Triggers() {
			if iv.Groups == nil {
				iv.Groups = map[string][]SubFieldView{}
			}
			for _, sf := range item.Conditional.Group(trigger) {
				iv.Groups[trigger] = append(iv.Groups[trigger], SubFieldView{
					Key:      forms.Key{Item: item.UUID, Trigger: trigger, Sub: sf.ID}.String(),
					Trigger:  trigger,
					ID:       sf.ID,
					Label:    sf.Label,
					Required: sf.Required,
					Field:    forms.Describe(sf.Field),
				})
			}
		}
		fv.Items = append(fv.Items, iv)
	}
	return fv, nil
}
