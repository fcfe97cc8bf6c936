package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- tasks ---

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	var due any
	if t.DueDate != nil {
		due = *t.DueDate
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,priority,status,is_pinned,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Priority, t.Status, boolInt(t.IsPinned), due, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask assembles the full aggregate: scalar row plus assignees,
// tags, subtasks, comments and attachments.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

// GetTaskTx reads the aggregate inside an open transaction so a
// mutation can return the state it just wrote.
func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q execer, id string) (domain.Task, error) {
	var (
		t      domain.Task
		desc   sql.NullString
		due    sql.NullString
		pinned int
	)
	err := q.QueryRowContext(ctx, `SELECT id,title,description,priority,status,is_pinned,due_date,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.Title, &desc, &t.Priority, &t.Status, &pinned, &due, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if due.Valid {
		v := due.String
		t.DueDate = &v
	}
	t.IsPinned = pinned != 0

	if t.AssigneeIDs, err = loadAssignees(ctx, q, id); err != nil {
		return t, err
	}
	if t.Tags, err = loadTags(ctx, q, id); err != nil {
		return t, err
	}
	if t.Subtasks, err = loadSubtasks(ctx, q, id); err != nil {
		return t, err
	}
	if t.Comments, err = loadComments(ctx, q, id); err != nil {
		return t, err
	}
	if t.Attachments, err = loadAttachments(ctx, q, id); err != nil {
		return t, err
	}
	t.Progress = domain.ComputeProgress(t.Subtasks)
	return t, nil
}

// ListTasks returns scalar rows only, pinned first then most recently
// updated. Sub-entities are not loaded.
func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,priority,status,is_pinned,created_at,updated_at FROM tasks ORDER BY is_pinned DESC, updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var (
			t      domain.Task
			pinned int
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Priority, &t.Status, &pinned, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.IsPinned = pinned != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTaskFieldTx writes one scalar column. field is a domain field
// name, already validated by the engine.
func (r Repo) UpdateTaskFieldTx(ctx context.Context, tx *sql.Tx, id, field, value, now string) error {
	var column string
	switch field {
	case domain.FieldTitle:
		column = "title"
	case domain.FieldDescription:
		column = "description"
	case domain.FieldPriority:
		column = "priority"
	case domain.FieldStatus:
		column = "status"
	case domain.FieldDueDate:
		column = "due_date"
	default:
		return errors.New("unknown field " + field)
	}
	var arg any = value
	if value == "" && (column == "description" || column == "due_date") {
		arg = nil
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET `+column+`=?, updated_at=? WHERE id=?`, arg, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPinnedTx(ctx context.Context, tx *sql.Tx, id string, pinned bool, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET is_pinned=?, updated_at=? WHERE id=?`, boolInt(pinned), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TouchTaskTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- assignees ---

func loadAssignees(ctx context.Context, q execer, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT member_id FROM task_assignees WHERE task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceAssigneesTx swaps the full membership set. The order of
// memberIDs is preserved.
func (r Repo) ReplaceAssigneesTx(ctx context.Context, tx *sql.Tx, taskID string, memberIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for i, id := range memberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_assignees(task_id,member_id,position) VALUES (?,?,?)`, taskID, id, i); err != nil {
			return err
		}
	}
	return nil
}

// --- tags ---

func loadTags(ctx context.Context, q execer, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag FROM task_tags WHERE task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (r Repo) ReplaceTagsTx(ctx context.Context, tx *sql.Tx, taskID string, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for i, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_tags(task_id,tag,position) VALUES (?,?,?)`, taskID, tag, i); err != nil {
			return err
		}
	}
	return nil
}

// --- subtasks ---

func loadSubtasks(ctx context.Context, q execer, taskID string) ([]domain.Subtask, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,title,completed FROM subtasks WHERE task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs := []domain.Subtask{}
	for rows.Next() {
		var (
			s         domain.Subtask
			completed int
		)
		if err := rows.Scan(&s.ID, &s.Title, &completed); err != nil {
			return nil, err
		}
		s.Completed = completed != 0
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r Repo) InsertSubtaskTx(ctx context.Context, tx *sql.Tx, taskID string, s domain.Subtask) error {
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM subtasks WHERE task_id=?`, taskID).Scan(&pos); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO subtasks(id,task_id,title,completed,position) VALUES (?,?,?,?,?)`,
		s.ID, taskID, s.Title, boolInt(s.Completed), pos)
	return err
}

func (r Repo) GetSubtaskTx(ctx context.Context, tx *sql.Tx, taskID, id string) (domain.Subtask, error) {
	var (
		s         domain.Subtask
		completed int
	)
	err := tx.QueryRowContext(ctx, `SELECT id,title,completed FROM subtasks WHERE task_id=? AND id=?`, taskID, id).
		Scan(&s.ID, &s.Title, &completed)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Completed = completed != 0
	return s, err
}

func (r Repo) UpdateSubtaskTx(ctx context.Context, tx *sql.Tx, taskID string, s domain.Subtask) error {
	res, err := tx.ExecContext(ctx, `UPDATE subtasks SET title=?, completed=? WHERE task_id=? AND id=?`,
		s.Title, boolInt(s.Completed), taskID, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSubtaskTx(ctx context.Context, tx *sql.Tx, taskID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id=? AND id=?`, taskID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- comments ---

func loadComments(ctx context.Context, q execer, taskID string) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,author_id,content,created_at,updated_at FROM comments WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	comments := []domain.Comment{}
	for rows.Next() {
		var (
			c       domain.Comment
			updated sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.Content, &c.CreatedAt, &updated); err != nil {
			return nil, err
		}
		if updated.Valid {
			v := updated.String
			c.UpdatedAt = &v
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, taskID string, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_id,author_id,content,created_at) VALUES (?,?,?,?,?)`,
		c.ID, taskID, c.AuthorID, c.Content, c.CreatedAt)
	return err
}

func (r Repo) GetCommentTx(ctx context.Context, tx *sql.Tx, taskID, id string) (domain.Comment, error) {
	var (
		c       domain.Comment
		updated sql.NullString
	)
	err := tx.QueryRowContext(ctx, `SELECT id,author_id,content,created_at,updated_at FROM comments WHERE task_id=? AND id=?`, taskID, id).
		Scan(&c.ID, &c.AuthorID, &c.Content, &c.CreatedAt, &updated)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if updated.Valid {
		v := updated.String
		c.UpdatedAt = &v
	}
	return c, err
}

func (r Repo) UpdateCommentTx(ctx context.Context, tx *sql.Tx, taskID, id, content, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE comments SET content=?, updated_at=? WHERE task_id=? AND id=?`, content, now, taskID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCommentTx(ctx context.Context, tx *sql.Tx, taskID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id=? AND id=?`, taskID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- attachments ---

func loadAttachments(ctx context.Context, q execer, taskID string) ([]domain.Attachment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,size_bytes,mime_type,storage_path,uploaded_by,uploaded_at FROM attachments WHERE task_id=? ORDER BY uploaded_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	atts := []domain.Attachment{}
	for rows.Next() {
		var (
			a    domain.Attachment
			mime sql.NullString
			by   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.SizeBytes, &mime, &a.StoragePath, &by, &a.UploadedAt); err != nil {
			return nil, err
		}
		if mime.Valid {
			a.MimeType = mime.String
		}
		if by.Valid {
			a.UploadedBy = by.String
		}
		a.State = domain.AttachmentConfirmed
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

func (r Repo) InsertAttachmentTx(ctx context.Context, tx *sql.Tx, taskID string, a domain.Attachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attachments(id,task_id,name,size_bytes,mime_type,storage_path,uploaded_by,uploaded_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, taskID, a.Name, a.SizeBytes, nullable(a.MimeType), a.StoragePath, nullable(a.UploadedBy), a.UploadedAt)
	return err
}

func (r Repo) GetAttachmentTx(ctx context.Context, tx *sql.Tx, taskID, id string) (domain.Attachment, error) {
	var (
		a    domain.Attachment
		mime sql.NullString
		by   sql.NullString
	)
	err := tx.QueryRowContext(ctx, `SELECT id,name,size_bytes,mime_type,storage_path,uploaded_by,uploaded_at FROM attachments WHERE task_id=? AND id=?`, taskID, id).
		Scan(&a.ID, &a.Name, &a.SizeBytes, &mime, &a.StoragePath, &by, &a.UploadedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if mime.Valid {
		a.MimeType = mime.String
	}
	if by.Valid {
		a.UploadedBy = by.String
	}
	return a, err
}

func (r Repo) DeleteAttachmentTx(ctx context.Context, tx *sql.Tx, taskID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE task_id=? AND id=?`, taskID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- members ---

func (r Repo) InsertMember(ctx context.Context, m domain.TeamMember) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(id,name,avatar) VALUES (?,?,?)`, m.ID, m.Name, nullable(m.Avatar))
	return err
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.TeamMember, error) {
	var (
		m      domain.TeamMember
		avatar sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,avatar FROM members WHERE id=?`, id).Scan(&m.ID, &m.Name, &avatar)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if avatar.Valid {
		m.Avatar = avatar.String
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,avatar FROM members ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	members := []domain.TeamMember{}
	for rows.Next() {
		var (
			m      domain.TeamMember
			avatar sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Name, &avatar); err != nil {
			return nil, err
		}
		if avatar.Valid {
			m.Avatar = avatar.String
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
