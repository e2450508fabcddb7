package validate

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/dunamismax/variantforge/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Import decodes a JSON array of variant definitions. Missing fields take the
// default variant settings. Any malformed or invalid entry rejects the whole
// document, so callers either get every variant or none.
func Import(data []byte) ([]domain.Variant, error) {
	var raws []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, domain.ValidationErrors{{Message: fmt.Sprintf("malformed JSON: %v", err)}}
	}
	if len(raws) == 0 {
		return nil, domain.ValidationErrors{{Message: "the document contains no variants"}}
	}

	variants := make([]domain.Variant, 0, len(raws))
	var errs domain.ValidationErrors
	for i, raw := range raws {
		v := domain.DefaultVariant()
		if err := json.Unmarshal(raw, &v); err != nil {
			errs = append(errs, &domain.ValidationError{Position: i + 1, Message: fmt.Sprintf("malformed variant: %v", err)})
			continue
		}
		v.Index = i
		variants = append(variants, v)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if err := Validate(variants); err != nil {
		return nil, err
	}
	if err := ValidateSemantics(variants); err != nil {
		return nil, err
	}
	return variants, nil
}

// Export encodes variants in the import format.
func Export(variants []domain.Variant) ([]byte, error) {
	if variants == nil {
		variants = []domain.Variant{}
	}
	data, err := json.MarshalIndent(variants, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode variants: %w", err)
	}
	return data, nil
}
