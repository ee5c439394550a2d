package model

import "time"

// User is the global identity record shared by every subscribed application.
// PasswordHash is nil for accounts provisioned through an external identity
// method; such accounts cannot authenticate with a password.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash *string   `json:"-"`
	Name         *string   `json:"name,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Application is a registered tenant application. The slug is the claim key
// used inside access tokens.
type Application struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// AppMembership is one (application, role) pair held by a user.
type AppMembership struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// AuthUser is the public projection of a User returned by the API.
type AuthUser struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
	Role  string  `json:"role"`
}

// AuthClaims carries the verified access token contents through the request
// context.
type AuthClaims struct {
	UserID     string            `json:"sub"`
	Email      string            `json:"email"`
	GlobalRole string            `json:"globalRole"`
	Apps       map[string]string `json:"apps"`
	TokenID    string            `json:"jti"`
}

// TokenPair is the artifact of a successful login or refresh. RefreshToken is
// the only place the plaintext refresh secret ever exists.
type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	User         AuthUser `json:"user"`
}

// Profile is the payload of the me endpoint: public user fields plus every
// per-application role the user holds.
type Profile struct {
	User AuthUser        `json:"user"`
	Apps []AppMembership `json:"apps"`
}

// Public returns the API projection of the user.
func (u User) Public() AuthUser {
	return AuthUser{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}
