package model

type RegisterRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     *string `json:"name,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RegisterResponse struct {
	ID string `json:"id"`
}

type LogoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

type RevokeAllResponse struct {
	Revoked int64 `json:"revoked"`
}
