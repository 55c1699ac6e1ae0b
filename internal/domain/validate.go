package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks mandatory fields, ranges and flag combinations of a.
func Validate(a *Appointment) error {
	if a.Start.IsZero() {
		return Validation("start", "mandatory field missing")
	}
	if a.End.IsZero() {
		return Validation("end", "mandatory field missing")
	}
	if a.End.Before(a.Start) {
		return Validation("end", "end date is before start date")
	}
	if a.FolderID == 0 {
		return Validation("folder_id", "mandatory field missing")
	}
	if err := validate.Struct(a); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return Validation(fe.Field(), fmt.Sprintf("value %v violates %s=%s", fe.Value(), fe.Tag(), fe.Param()))
		}
		return Validation("", err.Error())
	}
	if !a.Pattern.IsZero() && !a.Pattern.Until.IsZero() && a.Pattern.Until.Before(dayStart(a)) {
		return Validation("until", "until date is before start date")
	}
	return validatePrivate(a)
}

// validatePrivate allows the private flag only in private folders on
// appointments without participants other than the owner.
func validatePrivate(a *Appointment) error {
	if !a.Private {
		return nil
	}
	if a.FolderType != FolderPrivate {
		return Validation("private", fmt.Sprintf("private flag not allowed in %s folder", a.FolderType))
	}
	if len(a.Users) > 1 {
		return Validation("private", "private flag not allowed on appointments with participants")
	}
	for _, p := range a.Participants {
		if p.Type != ParticipantUser || p.ID != a.CreatedBy {
			return Validation("private", "private flag not allowed on appointments with participants")
		}
	}
	return nil
}

func dayStart(a *Appointment) time.Time {
	loc := a.Loc()
	y, m, d := a.Start.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
