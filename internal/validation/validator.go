// Package validation はgo-playground/validatorによるリクエスト/レスポンスの構造検証を提供する。
// 検証エラーはフィールド名（jsonタグ名）ごとのメッセージを持つVALIDATION_FAILEDに変換される。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/shelfmate/internal/model"
)

// Validator はvalidator.Validateをラップし、ドメインエラーへの変換を行う。
// 生成後はスレッドセーフに共有できる。
type Validator struct {
	v *validator.Validate
}

// New はドメイン用のカスタムタグを登録したValidatorを生成する。
//
// カスタムタグ:
//   - notblank: 空白のみの文字列を拒否する
//   - shelf_status: 本棚に置けるステータス（to-read, currently-reading, read）
//   - shelf_status_any: no-statusを含む全ステータス
//   - rating: pos, mid, neg のいずれか
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	mustRegister(v, "shelf_status", func(fl validator.FieldLevel) bool {
		return model.ShelfStatus(fl.Field().String()).Shelvable()
	})
	mustRegister(v, "shelf_status_any", func(fl validator.FieldLevel) bool {
		return model.ShelfStatus(fl.Field().String()).Valid()
	})
	mustRegister(v, "rating", func(fl validator.FieldLevel) bool {
		r := model.Rating(fl.Field().String())
		return r.Valid() && r.IsSet()
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// Validate は構造体を検証し、違反があればVALIDATION_FAILEDのAPIErrorを返す。
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Var は単一の値をタグで検証する。fieldはエラー詳細のキーになる。
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.v.Var(value, tag)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	return model.NewValidationError(map[string]string{
		field: friendlyMessage(validationErrs[0]),
	})
}

// formatError はvalidatorのエラーをドメインエラーに変換する。
func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		fieldErrors[fieldPath(e)] = friendlyMessage(e)
	}
	return model.NewValidationError(fieldErrors)
}

// fieldPath はトップレベル構造体名を除いたフィールドパスを返す（例: entry.status）。
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return e.Field()
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_with", "required_if":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", e.Param())
		}
		return "must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must not exceed %s characters", e.Param())
		}
		return "must not exceed " + e.Param()
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "url", "http_url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "shelf_status":
		return "must be one of: to-read currently-reading read"
	case "shelf_status_any":
		return "must be one of: no-status to-read currently-reading read"
	case "rating":
		return "must be one of: pos mid neg"
	case "dive":
		return "contains an invalid element"
	default:
		return "is invalid"
	}
}
