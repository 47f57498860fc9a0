package validate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/go-playground/validator/v10"
)

// Проверка, что ItemValidator удовлетворяет интерфейсу ItemValidator.
var _ ports.ItemValidator = (*ItemValidator)(nil)

// ErrInvalidItem — базовая (sentinel error) ошибка валидации.
var ErrInvalidItem = errors.New("item validation failed")

// ItemValidator — валидация декодированных объектов по тегам `validate:"..."`.
type ItemValidator struct {
	v *validator.Validate
}

// NewItemValidator — конструктор ItemValidator.
func NewItemValidator() *ItemValidator {
	return &ItemValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate — проверяет структуру (или указатель на неё).
// Значения других видов (map, строки, числа) тегов не имеют и считаются валидными.
// Возвращает ErrInvalidItem (с обёрнутой причиной) при любой проблеме.
func (iv *ItemValidator) Validate(ctx context.Context, item any) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidItem)
	}

	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("%w: item is nil", ErrInvalidItem)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := iv.v.StructCtx(ctx, item)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s", ErrInvalidItem, describe(fieldErrs))
	}
	return fmt.Errorf("%w: %v", ErrInvalidItem, err)
}

// describe — компактное описание нарушений: "Order.ID: required; Order.Amount: gte=0".
func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Namespace()+": "+rule)
	}
	return strings.Join(parts, "; ")
}
