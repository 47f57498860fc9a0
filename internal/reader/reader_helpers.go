package reader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gunvolt24/mq_reader/internal/domain"
)

const expectedKinds = "object | map | text"

// decode — разбор конверта в элемент; второй результат — метка для метрик.
func (r *Reader) decode(ctx context.Context, msg *domain.Message) (any, string, error) {
	if r.cfg.TargetShape == ShapeEnvelope {
		return msg, "envelope", nil
	}

	switch body := msg.Body.(type) {
	case domain.ObjectBody:
		obj, err := r.decodeObject(body.Data)
		if err != nil {
			return nil, "decode", fmt.Errorf("decode object message id=%s: %w", msg.ID, err)
		}
		if !r.cfg.SkipValidation {
			if err := r.validator.Validate(ctx, obj); err != nil {
				return nil, "validation", &ValidationError{MessageID: msg.ID, Err: err}
			}
		}
		return obj, string(domain.KindObject), nil

	case domain.MapBody:
		out := make(map[string]any, len(body.Entries))
		for k, v := range body.Entries {
			out[k] = v
		}
		return out, string(domain.KindMap), nil

	case domain.TextBody:
		return body.Text, string(domain.KindText), nil

	default:
		return nil, "unsupported", &UnsupportedMessageTypeError{
			Expected:   expectedKinds,
			TypeName:   msg.Type,
			Diagnostic: msg.String(),
		}
	}
}

// decodeObject — JSON в NewObject() либо в обобщённое значение.
func (r *Reader) decodeObject(data []byte) (any, error) {
	if r.cfg.NewObject != nil {
		target := r.cfg.NewObject()
		if err := json.Unmarshal(data, target); err != nil {
			return nil, err
		}
		return target, nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
