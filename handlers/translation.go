package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
)

// Translator rewrites texts from one language into another, in order.
type Translator interface {
	Translate(ctx context.Context, texts []string, source, target string) ([]string, error)
}

// ContentStore reads source texts and stores translations of an entity.
type ContentStore interface {
	Texts(ctx context.Context, tenantID, entity, id string, fields []string) (map[string]string, error)
	SaveTranslation(ctx context.Context, tenantID, entity, id, lang string, fields map[string]string) error
}

type translationPayload struct {
	Entity  string   `json:"entity"`
	IDs     []string `json:"ids"`
	Fields  []string `json:"fields"`
	Source  string   `json:"source"`
	Targets []string `json:"targets"`
}

type TranslationResult struct {
	Translated int `json:"translated"`
}

// Translation translates the fields of many entities into several languages.
type Translation struct {
	Translator Translator
	Content    ContentStore
}

func (h *Translation) Execute(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
	p, err := decode[translationPayload](job.Payload)
	if err != nil {
		return nil, err
	}
	if len(p.IDs) == 0 || len(p.Targets) == 0 || len(p.Fields) == 0 {
		return nil, custom_errors.Permanentf("ids, fields and targets are required")
	}
	if p.Entity == "" {
		p.Entity = "products"
	}
	if p.Source == "" {
		p.Source = "en"
	}

	total := len(p.IDs) * len(p.Targets)
	done := 0
	for _, id := range p.IDs {
		texts, err := h.Content.Texts(ctx, job.TenantID, p.Entity, id, p.Fields)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(texts))
		values := make([]string, 0, len(texts))
		for _, f := range p.Fields {
			if v, ok := texts[f]; ok && v != "" {
				keys = append(keys, f)
				values = append(values, v)
			}
		}

		for _, lang := range p.Targets {
			if len(values) > 0 {
				out, err := h.Translator.Translate(ctx, values, p.Source, lang)
				if err != nil {
					return nil, err
				}
				if len(out) != len(values) {
					return nil, fmt.Errorf("translator returned %d texts for %d", len(out), len(values))
				}
				fields := make(map[string]string, len(keys))
				for i, k := range keys {
					fields[k] = out[i]
				}
				if err := h.Content.SaveTranslation(ctx, job.TenantID, p.Entity, id, lang, fields); err != nil {
					return nil, err
				}
			}
			done++
			if err := step(ctx, ec, done, total, fmt.Sprintf("translated %s %s into %s", p.Entity, id, lang)); err != nil {
				return nil, err
			}
		}
	}
	return result(TranslationResult{Translated: done})
}
