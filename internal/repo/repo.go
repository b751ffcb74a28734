package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- actors ---

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id,name,is_automated,created_at) VALUES (?,?,?,?)`,
		a.ID, a.Name, boolInt(a.IsAutomated), a.CreatedAt)
	return err
}

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id,name,is_automated,created_at) VALUES (?,?,0,?)`, actorID, actorID, now)
	return err
}

func (r Repo) ActorExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM actors WHERE id=?`, id).Scan(&n)
	return n > 0, err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var automated int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,is_automated,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &automated, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.IsAutomated = automated != 0
	return a, err
}

// --- teams ---

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,name,owner_actor_id,created_at) VALUES (?,?,?,?)`,
		t.ID, t.Name, t.OwnerActorID, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,owner_actor_id,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.OwnerActorID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) AddTeamMember(ctx context.Context, tx *sql.Tx, teamID, actorID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(team_id,actor_id,role) VALUES (?,?,?)`, teamID, actorID, role)
	return err
}

func (r Repo) IsTeamMember(ctx context.Context, teamID, actorID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM team_members WHERE team_id=? AND actor_id=? LIMIT 1`, teamID, actorID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,team_id,name,description,status,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.TeamID, p.Name, nullable(p.Description), p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := scan(&p.ID, &p.TeamID, &p.Name, &desc, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

const projectCols = `id,team_id,name,description,status,created_by,created_at,updated_at`

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) ListProjectsByTeam(ctx context.Context, teamID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectCols+` FROM projects WHERE team_id=? ORDER BY created_at DESC, id DESC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProjectTeam(ctx context.Context, tx *sql.Tx, projectID, teamID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET team_id=?, updated_at=? WHERE id=?`, teamID, now, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- slots ---

const slotCols = `id,team_id,project_id,name,position,created_at,updated_at`

func (r Repo) InsertSlot(ctx context.Context, tx *sql.Tx, s domain.Slot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO slots(id,team_id,project_id,name,position,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.TeamID, s.ProjectID, s.Name, s.Position, s.CreatedAt, s.UpdatedAt)
	return err
}

func scanSlot(scan func(dest ...any) error) (domain.Slot, error) {
	var s domain.Slot
	err := scan(&s.ID, &s.TeamID, &s.ProjectID, &s.Name, &s.Position, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSlot(ctx context.Context, id string) (domain.Slot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+slotCols+` FROM slots WHERE id=?`, id)
	return scanSlot(row.Scan)
}

func (r Repo) GetSlotTx(ctx context.Context, tx *sql.Tx, id string) (domain.Slot, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+slotCols+` FROM slots WHERE id=?`, id)
	return scanSlot(row.Scan)
}

func (r Repo) ListSlotsByProject(ctx context.Context, projectID string) ([]domain.Slot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotCols+` FROM slots WHERE project_id=? ORDER BY position ASC, created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) NextSlotPosition(ctx context.Context, projectID string) (int, error) {
	var pos int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),-1)+1 FROM slots WHERE project_id=?`, projectID).Scan(&pos)
	return pos, err
}

func (r Repo) CountSlotsByProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM slots WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

func (r Repo) UpdateSlotsTeamByProject(ctx context.Context, tx *sql.Tx, projectID, teamID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE slots SET team_id=?, updated_at=? WHERE project_id=?`, teamID, now, projectID)
	return err
}

func (r Repo) UpdateSlotTeam(ctx context.Context, tx *sql.Tx, slotID, teamID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE slots SET team_id=?, updated_at=? WHERE id=?`, teamID, now, slotID)
	return err
}

// --- sprints ---

func (r Repo) InsertSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sprints(id,team_id,name,starts_at,ends_at,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.TeamID, s.Name, nullableStringPtr(s.StartsAt), nullableStringPtr(s.EndsAt), s.CreatedAt)
	return err
}

func scanSprint(scan func(dest ...any) error) (domain.Sprint, error) {
	var s domain.Sprint
	var starts, ends sql.NullString
	err := scan(&s.ID, &s.TeamID, &s.Name, &starts, &ends, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if starts.Valid {
		s.StartsAt = &starts.String
	}
	if ends.Valid {
		s.EndsAt = &ends.String
	}
	return s, err
}

const sprintCols = `id,team_id,name,starts_at,ends_at,created_at`

func (r Repo) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sprintCols+` FROM sprints WHERE id=?`, id)
	return scanSprint(row.Scan)
}

func (r Repo) GetSprintTx(ctx context.Context, tx *sql.Tx, id string) (domain.Sprint, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sprintCols+` FROM sprints WHERE id=?`, id)
	return scanSprint(row.Scan)
}

// --- tasks ---

const taskCols = `id,team_id,project_id,slot_id,sprint_id,title,description,assignee_id,created_by,done,due_at,created_at,updated_at,completed_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TeamID, t.ProjectID, nullableStringPtr(t.SlotID), nullableStringPtr(t.SprintID), t.Title, nullable(t.Description),
		nullableStringPtr(t.AssigneeID), t.CreatedBy, boolInt(t.Done), nullableStringPtr(t.DueAt),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET team_id=?, project_id=?, slot_id=?, sprint_id=?, title=?, description=?, assignee_id=?, done=?, due_at=?, updated_at=?, completed_at=? WHERE id=?`,
		t.TeamID, t.ProjectID, nullableStringPtr(t.SlotID), nullableStringPtr(t.SprintID), t.Title, nullable(t.Description),
		nullableStringPtr(t.AssigneeID), boolInt(t.Done), nullableStringPtr(t.DueAt), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var slotID, sprintID, description, assigneeID, dueAt, completedAt sql.NullString
	var done int
	err := scan(&t.ID, &t.TeamID, &t.ProjectID, &slotID, &sprintID, &t.Title, &description, &assigneeID, &t.CreatedBy, &done, &dueAt, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Done = done != 0
	if slotID.Valid {
		t.SlotID = &slotID.String
	}
	if sprintID.Valid {
		t.SprintID = &sprintID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	TeamID     string
	ProjectID  string
	SlotID     string
	AssigneeID string
	Done       *bool
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.SlotID != "" {
		clauses = append(clauses, "slot_id=?")
		args = append(args, f.SlotID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Done != nil {
		clauses = append(clauses, "done=?")
		args = append(args, boolInt(*f.Done))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextBatchTask returns the highest-priority open task assigned to an automated
// actor: due date ascending with null due dates last, then id, skipping the
// given ids. A no-match is reported as ErrNotFound.
func (r Repo) NextBatchTask(ctx context.Context, exclude []string, onlyTaskID string) (domain.Task, error) {
	clauses := []string{
		"tasks.done=0",
		"tasks.assignee_id IS NOT NULL",
		"EXISTS (SELECT 1 FROM actors a WHERE a.id=tasks.assignee_id AND a.is_automated=1)",
	}
	var args []any
	if onlyTaskID != "" {
		clauses = append(clauses, "tasks.id=?")
		args = append(args, onlyTaskID)
	}
	if len(exclude) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(exclude)), ",")
		clauses = append(clauses, fmt.Sprintf("tasks.id NOT IN (%s)", placeholders))
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query := `SELECT ` + taskCols + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + `
ORDER BY CASE WHEN due_at IS NULL THEN 1 ELSE 0 END, due_at ASC, id ASC LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, args...)
	return scanTask(row.Scan)
}

func (r Repo) CountTasksByProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

func (r Repo) CountSprintTasksByProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=? AND sprint_id IS NOT NULL`, projectID).Scan(&n)
	return n, err
}

// ProjectTaskStats summarizes a project for the metrics tool.
type ProjectTaskStats struct {
	Total     int `json:"total"`
	Open      int `json:"open"`
	Done      int `json:"done"`
	Overdue   int `json:"overdue"`
	InSprints int `json:"in_sprints"`
}

func (r Repo) ProjectTaskStats(ctx context.Context, projectID, now string) (ProjectTaskStats, error) {
	var s ProjectTaskStats
	// COALESCE keeps the sums scannable when the project has no tasks yet.
	err := r.DB.QueryRowContext(ctx, `SELECT
COUNT(*),
COALESCE(SUM(CASE WHEN done=0 THEN 1 ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN done=1 THEN 1 ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN done=0 AND due_at IS NOT NULL AND due_at < ? THEN 1 ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN sprint_id IS NOT NULL THEN 1 ELSE 0 END), 0)
FROM tasks WHERE project_id=?`, now, projectID).
		Scan(&s.Total, &s.Open, &s.Done, &s.Overdue, &s.InSprints)
	return s, err
}

// MoveTasksTeamByProject re-scopes every task of a project and clears sprint
// assignments, which are team-specific.
func (r Repo) MoveTasksTeamByProject(ctx context.Context, tx *sql.Tx, projectID, teamID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET team_id=?, sprint_id=NULL, updated_at=? WHERE project_id=?`, teamID, now, projectID)
	return err
}

// MoveTasksTeamBySlot re-scopes every task of a slot and clears sprint assignments.
func (r Repo) MoveTasksTeamBySlot(ctx context.Context, tx *sql.Tx, slotID, teamID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET team_id=?, sprint_id=NULL, updated_at=? WHERE slot_id=?`, teamID, now, slotID)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
