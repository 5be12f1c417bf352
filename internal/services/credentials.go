package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/auth"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/internal/store"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	MsgValidationFailed   = "Error de validación"
	MsgInvalidCredentials = "Credenciales de ingreso inválidas, intenta nuevamente"
	MsgMissingFields      = "Debes ingresar todos los campos requeridos"

	msgNameRule     = "El nombre debe tener entre 1 y 30 caracteres"
	msgEmailRule    = "El correo ingresado no tiene un formato válido"
	msgPasswordRule = "La contraseña debe tener entre 8 y 30 caracteres"
)

// RegisterInput carries a registration request after decoding.
type RegisterInput struct {
	Name     string `validate:"required,max=30"`
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required,min=8,max=30"`
}

// CredentialService owns user identities and password verification.
type CredentialService struct {
	db       *sqlx.DB
	repos    Repositories
	hasher   *auth.PasswordHasher
	validate *validator.Validate
	log      logrus.FieldLogger
}

func NewCredentialService(conn *sqlx.DB, repos Repositories, hasher *auth.PasswordHasher, log logrus.FieldLogger) *CredentialService {
	return &CredentialService{
		db:       conn,
		repos:    repos,
		hasher:   hasher,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register validates and stores a new user. The raw password is only ever
// passed to the hasher.
func (s *CredentialService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)

	if err := s.validate.Struct(in); err != nil {
		return types.User{}, registrationError(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.User{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	var created types.User
	err = db.WithTx(ctx, s.db, nil, func(ctx context.Context, q db.Querier) error {
		user, err := s.repos.Users(q).Create(ctx, types.User{
			Name:         in.Name,
			Email:        in.Email,
			PasswordHash: hash,
		})
		created = user
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, apperr.Unique(err)
		}
		return types.User{}, apperr.Internal(fmt.Errorf("create user: %w", err))
	}

	s.log.WithField("user_id", created.ID).Info("user registered")
	return created, nil
}

// VerifyCredentials returns the user for a matching email and password.
// An unknown email and a wrong password produce the same error.
func (s *CredentialService) VerifyCredentials(ctx context.Context, email, password string) (types.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, apperr.Validation(MsgMissingFields)
	}

	user, err := s.repos.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.CompareMissing(password)
			return types.User{}, apperr.Validation(MsgInvalidCredentials)
		}
		return types.User{}, apperr.Internal(fmt.Errorf("load user: %w", err))
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		return types.User{}, apperr.Validation(MsgInvalidCredentials)
	}
	return user, nil
}

func (s *CredentialService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repos.Users(s.db).GetByID(ctx, id)
}

func registrationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err)
	}

	seen := make(map[string]bool, len(verrs))
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.StructField() {
		case "Name":
			msg = msgNameRule
		case "Email":
			msg = msgEmailRule
		case "Password":
			msg = msgPasswordRule
		default:
			msg = fe.Error()
		}
		if !seen[msg] {
			seen[msg] = true
			details = append(details, msg)
		}
	}
	return apperr.Validation(MsgValidationFailed, details...)
}
