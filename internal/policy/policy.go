package policy

import (
	"context"
	"database/sql"
)

// Checker answers "may actor perform action within team". The tool layer
// consumes only the boolean; policy logic stays here.
type Checker interface {
	Can(ctx context.Context, actorID, action, teamID string) (bool, error)
}

// Service is the SQL-backed evaluator: team owners may do anything in their
// team, members may do anything except team administration.
type Service struct {
	DB *sql.DB
}

func (s Service) Can(ctx context.Context, actorID, action, teamID string) (bool, error) {
	if actorID == "" || teamID == "" {
		return false, nil
	}
	var role string
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id=? AND actor_id=? LIMIT 1`, teamID, actorID).Scan(&role)
	if err == sql.ErrNoRows {
		// The owner is implicitly a member even without a membership row.
		var n int
		oerr := s.DB.QueryRowContext(ctx, `SELECT 1 FROM teams WHERE id=? AND owner_actor_id=? LIMIT 1`, teamID, actorID).Scan(&n)
		if oerr == sql.ErrNoRows {
			return false, nil
		}
		if oerr != nil {
			return false, oerr
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	switch action {
	case "team.admin":
		return role == "owner", nil
	default:
		return true, nil
	}
}

// AllowAll is a Checker for tests and trusted local use.
type AllowAll struct{}

func (AllowAll) Can(context.Context, string, string, string) (bool, error) { return true, nil }
