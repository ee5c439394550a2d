package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"trevvos-auth/internal/model"
)

// AppRepository is the read-only role directory: which role a user holds in
// each subscribed application. Assignments are managed by a separate
// authorization process and only read here.
type AppRepository struct {
	pool *pgxpool.Pool
}

func NewAppRepository(pool *pgxpool.Pool) *AppRepository {
	return &AppRepository{pool: pool}
}

// RolesForUser returns the claims map embedded in access tokens: application
// slug to role. Always reads current store state; issuance time is the only
// time this is consulted.
func (r *AppRepository) RolesForUser(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.slug, uar.role
		 FROM user_app_roles uar
		 JOIN applications a ON a.id = uar.app_id
		 WHERE uar.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("roles for user: %w", err)
	}
	defer rows.Close()

	apps := make(map[string]string)
	for rows.Next() {
		var slug, role string
		if err := rows.Scan(&slug, &role); err != nil {
			return nil, fmt.Errorf("scan app role: %w", err)
		}
		apps[slug] = role
	}
	return apps, rows.Err()
}

// MembershipsForUser returns the full (slug, name, role) listing used by the
// me endpoint.
func (r *AppRepository) MembershipsForUser(ctx context.Context, userID string) ([]model.AppMembership, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.slug, a.name, uar.role
		 FROM user_app_roles uar
		 JOIN applications a ON a.id = uar.app_id
		 WHERE uar.user_id = $1
		 ORDER BY a.slug`, userID)
	if err != nil {
		return nil, fmt.Errorf("memberships for user: %w", err)
	}
	defer rows.Close()

	memberships := make([]model.AppMembership, 0)
	for rows.Next() {
		var m model.AppMembership
		if err := rows.Scan(&m.Slug, &m.Name, &m.Role); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}
