package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRegisterInput() RegisterInput {
	return RegisterInput{
		FirstName:       "Alice",
		LastName:        "Smith",
		Email:           "alice@example.com",
		Username:        "alice_smith",
		Password:        "Sunflower7",
		ConfirmPassword: "Sunflower7",
	}
}

func TestValidateRegistrationValid(t *testing.T) {
	assert.Nil(t, validateRegistration(validRegisterInput()))
}

func TestValidateRegistrationFieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RegisterInput)
		field   string
		message string
	}{
		{
			name:    "missing first name",
			mutate:  func(in *RegisterInput) { in.FirstName = "" },
			field:   "firstName",
			message: "First name is required and must be 1-100 characters",
		},
		{
			name:    "first name with digits",
			mutate:  func(in *RegisterInput) { in.FirstName = "Al1ce" },
			field:   "firstName",
			message: "First name can only contain letters and spaces",
		},
		{
			name:    "bad email",
			mutate:  func(in *RegisterInput) { in.Email = "not-an-email" },
			field:   "email",
			message: "Please provide a valid email address",
		},
		{
			name:    "username too short",
			mutate:  func(in *RegisterInput) { in.Username = "ab" },
			field:   "username",
			message: "Username must be 3-50 characters",
		},
		{
			name:    "username with symbols",
			mutate:  func(in *RegisterInput) { in.Username = "alice!" },
			field:   "username",
			message: "Username can only contain letters, numbers, and underscores",
		},
		{
			name:    "password mismatch",
			mutate:  func(in *RegisterInput) { in.ConfirmPassword = "Different7" },
			field:   "confirmPassword",
			message: "Passwords do not match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validRegisterInput()
			tt.mutate(&input)

			verr := validateRegistration(input)
			require.NotNil(t, verr)
			require.Len(t, verr.Errors, 1)
			assert.Equal(t, tt.field, verr.Errors[0].Field)
			assert.Equal(t, tt.message, verr.Errors[0].Message)
		})
	}
}

func TestValidateRegistrationAccumulates(t *testing.T) {
	input := RegisterInput{}
	verr := validateRegistration(input)
	require.NotNil(t, verr)
	assert.GreaterOrEqual(t, len(verr.Errors), 4)
}

func TestValidateResetToken(t *testing.T) {
	assert.Equal(t, "Reset token is required", validateResetToken("").Message)
	assert.Equal(t, "Invalid token format", validateResetToken("short").Message)
	assert.Equal(t, "Invalid token format", validateResetToken(strings.Repeat("a", 63)+"!").Message)
	assert.Equal(t, "Invalid token format", validateResetToken(strings.Repeat("a", 201)).Message)
	assert.Nil(t, validateResetToken(strings.Repeat("a", 96)))
}
