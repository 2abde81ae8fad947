package ports

import "context"

type AuthService interface {
	Login(ctx context.Context, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// OperatorRepository exposes the bcrypt hash of the workstation operator password.
type OperatorRepository interface {
	PasswordHash(ctx context.Context) (string, error)
}
