// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSettings validates struct tags first, then cross-field rules.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validate.Struct(settings); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			ve.Errors = append(ve.Errors, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), redactValue(fe)))
		}
	}

	if err := validateDatabaseSettings(&settings.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateStudySettings(&settings.Study); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if settings.Backup.Enabled && settings.Backup.Dir == "" {
		ve.Errors = append(ve.Errors, "backup.dir is required when backups are enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateDatabaseSettings checks that the selected backend has connection details
func validateDatabaseSettings(settings *DatabaseSettings) error {
	switch settings.Type {
	case "sqlite":
		if settings.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required for sqlite")
		}
	case "mysql":
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" || settings.MySQL.Username == "" {
			return errors.New("database.mysql host, username and database are required for mysql")
		}
		if settings.MySQL.Port <= 0 || settings.MySQL.Port > 65535 {
			return fmt.Errorf("database.mysql.port %d is out of range", settings.MySQL.Port)
		}
	case "postgres":
		if settings.Postgres.DSN == "" {
			return errors.New("database.postgres.dsn is required for postgres")
		}
	}
	return nil
}

// validateStudySettings checks the crossover design fits the two-block layout
func validateStudySettings(settings *StudySettings) error {
	seen := make(map[string]struct{}, len(settings.Cases.Positive)+len(settings.Cases.Negative))
	for _, id := range append(append([]string{}, settings.Cases.Positive...), settings.Cases.Negative...) {
		id = strings.TrimSpace(id)
		if id == "" {
			return errors.New("study.cases contains an empty case id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("study.cases lists case %q more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func redactValue(fe validator.FieldError) any {
	if strings.Contains(strings.ToLower(fe.Field()), "secret") || strings.Contains(strings.ToLower(fe.Field()), "password") {
		return "[REDACTED]"
	}
	return fe.Value()
}
