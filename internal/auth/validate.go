package auth

import (
	"net/mail"
	"regexp"
)

var (
	nameRegex       = regexp.MustCompile(`^[a-zA-Z\s]+$`)
	usernameRegex   = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	resetTokenRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

func validateRegistration(input RegisterInput) *ValidationError {
	var fieldErrors []FieldError

	if fe := validateName("firstName", "First name", input.FirstName); fe != nil {
		fieldErrors = append(fieldErrors, *fe)
	}
	if fe := validateName("lastName", "Last name", input.LastName); fe != nil {
		fieldErrors = append(fieldErrors, *fe)
	}

	if _, err := mail.ParseAddress(input.Email); err != nil || input.Email == "" {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   "email",
			Message: "Please provide a valid email address",
		})
	}

	if len(input.Username) < 3 || len(input.Username) > 50 {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   "username",
			Message: "Username must be 3-50 characters",
		})
	} else if !usernameRegex.MatchString(input.Username) {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   "username",
			Message: "Username can only contain letters, numbers, and underscores",
		})
	}

	if fe := ValidatePassword(input.Password); fe != nil {
		fieldErrors = append(fieldErrors, *fe)
	}
	if input.ConfirmPassword != input.Password {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   "confirmPassword",
			Message: "Passwords do not match",
		})
	}

	if len(fieldErrors) > 0 {
		return &ValidationError{Errors: fieldErrors}
	}
	return nil
}

func validateName(field, label, value string) *FieldError {
	if len(value) < 1 || len(value) > 100 {
		return &FieldError{Field: field, Message: label + " is required and must be 1-100 characters"}
	}
	if !nameRegex.MatchString(value) {
		return &FieldError{Field: field, Message: label + " can only contain letters and spaces"}
	}
	return nil
}

// validateResetToken checks shape only; existence is decided later under
// the timing floor.
func validateResetToken(token string) *FieldError {
	if token == "" {
		return &FieldError{Field: "token", Message: "Reset token is required"}
	}
	if len(token) < 64 || len(token) > 200 || !resetTokenRegex.MatchString(token) {
		return &FieldError{Field: "token", Message: "Invalid token format"}
	}
	return nil
}
