package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func oneOf(values ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

func registerCustomValidations() {
	validate.RegisterValidation("eco_kind", oneOf("MINT_ACTION", "BURN_REWARD", "CONTRIBUTE", "CONTRIBUTE_TO_BIZ", "BIZ_COLLECT", "SCAN"))
	validate.RegisterValidation("eco_status", oneOf("pending", "settled", "failed"))
	validate.RegisterValidation("eco_relation", oneOf("EARNED", "SPENT", "NONE", ""))
	validate.RegisterValidation("pledge_tier", oneOf("starter", "builder", "leader", ""))
	validate.RegisterValidation("offer_type", oneOf("discount", "perk", "info"))
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "latitude":
			errors[field] = "Latitude must be between -90 and 90"
		case "longitude":
			errors[field] = "Longitude must be between -180 and 180"
		case "eco_kind":
			errors[field] = "Unknown entry kind"
		case "eco_status":
			errors[field] = "Status must be pending, settled or failed"
		case "eco_relation":
			errors[field] = "Relation must be EARNED, SPENT or NONE"
		case "pledge_tier":
			errors[field] = "Pledge tier must be starter, builder or leader"
		case "offer_type":
			errors[field] = "Offer type must be discount, perk or info"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
