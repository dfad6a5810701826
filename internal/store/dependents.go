package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/value"
)

// AddLink stores an identity link.
func (tx *Tx) AddLink(ctx context.Context, l model.IdentityLink) error {
	if err := l.Validate(); err != nil {
		return taskerr.NullValue(err.Error())
	}
	_, err := tx.q.ExecContext(ctx,
		"INSERT INTO identity_links (id, task_id, type, user_id, group_id) VALUES (?, ?, ?, ?, ?)",
		l.ID, l.TaskID, l.Type, nullString(l.UserID), nullString(l.GroupID),
	)
	if err != nil {
		return fmt.Errorf("add identity link: %w", err)
	}
	return nil
}

// DeleteLinks removes the links of a task matching type and exactly one of
// userID and groupID. It returns the number removed.
func (tx *Tx) DeleteLinks(ctx context.Context, taskID, linkType, userID, groupID string) (int64, error) {
	stmt := "DELETE FROM identity_links WHERE task_id = ? AND type = ? AND user_id = ?"
	who := userID
	if userID == "" {
		stmt = "DELETE FROM identity_links WHERE task_id = ? AND type = ? AND group_id = ?"
		who = groupID
	}
	res, err := tx.q.ExecContext(ctx, stmt, taskID, linkType, who)
	if err != nil {
		return 0, fmt.Errorf("delete identity links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete identity links: %w", err)
	}
	return n, nil
}

// Links lists the identity links of a task.
func (tx *Tx) Links(ctx context.Context, taskID string) ([]model.IdentityLink, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT id, task_id, type, user_id, group_id
		FROM identity_links
		WHERE task_id = ?
		ORDER BY id ASC COLLATE BINARY
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list identity links: %w", err)
	}
	defer rows.Close()

	links := []model.IdentityLink{}
	for rows.Next() {
		var l model.IdentityLink
		var user, group sql.NullString
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Type, &user, &group); err != nil {
			return nil, fmt.Errorf("scan identity link: %w", err)
		}
		l.UserID, l.GroupID = user.String, group.String
		links = append(links, l)
	}
	return links, rows.Err()
}

// variableRow is the column form of a typed variable value.
type variableRow struct {
	typ    value.Kind
	text   sql.NullString
	text2  sql.NullString
	long   sql.NullInt64
	double sql.NullFloat64
	bytes  []byte
}

func encodeVariable(v value.Value) (variableRow, error) {
	if v == nil {
		v = value.Null{}
	}
	row := variableRow{typ: v.Kind()}
	switch x := v.(type) {
	case value.Null:
	case value.String:
		row.text = sql.NullString{String: string(x), Valid: true}
	case value.Short, value.Integer, value.Long, value.Double:
		n, _ := value.NumberOf(x)
		row.double = sql.NullFloat64{Float64: n.Float(), Valid: true}
		if exact, ok := n.Exact(); ok {
			row.long = sql.NullInt64{Int64: exact, Valid: true}
		}
	case value.Boolean:
		row.long = sql.NullInt64{Int64: boolInt(bool(x)), Valid: true}
	case value.Date:
		row.long = sql.NullInt64{Int64: x.Millis(), Valid: true}
	case value.Bytes:
		row.bytes = []byte(x)
	case value.Object:
		row.text = sql.NullString{String: x.TypeName, Valid: true}
		row.bytes = x.Data
	case value.File:
		row.text = sql.NullString{String: x.Name, Valid: true}
		row.text2 = sql.NullString{String: x.MimeType, Valid: x.MimeType != ""}
		row.bytes = x.Data
	default:
		return row, taskerr.UnsupportedType("variables cannot store %s values", v.Kind())
	}
	return row, nil
}

func (row variableRow) decode() (value.Value, error) {
	switch row.typ {
	case value.KindNull:
		return value.Null{}, nil
	case value.KindString:
		return value.String(row.text.String), nil
	case value.KindShort:
		return value.Short(row.long.Int64), nil
	case value.KindInteger:
		return value.Integer(row.long.Int64), nil
	case value.KindLong:
		return value.Long(row.long.Int64), nil
	case value.KindDouble:
		return value.Double(row.double.Float64), nil
	case value.KindBoolean:
		return value.Boolean(row.long.Int64 != 0), nil
	case value.KindDate:
		return value.DateFromMillis(row.long.Int64), nil
	case value.KindBytes:
		return value.Bytes(row.bytes), nil
	case value.KindObject:
		return value.Object{TypeName: row.text.String, Data: row.bytes}, nil
	case value.KindFile:
		return value.File{Name: row.text.String, MimeType: row.text2.String, Data: row.bytes}, nil
	}
	return nil, fmt.Errorf("unknown stored variable type %q", row.typ)
}

// SetVariable creates or replaces a variable.
func (tx *Tx) SetVariable(ctx context.Context, v model.Variable) error {
	if v.Name == "" {
		return taskerr.NullValue("variable name")
	}
	row, err := encodeVariable(v.Value)
	if err != nil {
		return err
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO variables
		(scope, scope_id, name, type, text_value, text_value2, long_value, double_value, bytes_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, scope_id, name) DO UPDATE SET
			type = excluded.type,
			text_value = excluded.text_value,
			text_value2 = excluded.text_value2,
			long_value = excluded.long_value,
			double_value = excluded.double_value,
			bytes_value = excluded.bytes_value
	`,
		string(v.Scope), v.ScopeID, v.Name, string(row.typ),
		row.text, row.text2, row.long, row.double, row.bytes,
	)
	if err != nil {
		return fmt.Errorf("set variable %s: %w", v.Name, err)
	}
	return nil
}

// RemoveVariable deletes a variable and reports whether it existed.
func (tx *Tx) RemoveVariable(ctx context.Context, scope model.VariableScope, scopeID, name string) (bool, error) {
	res, err := tx.q.ExecContext(ctx,
		"DELETE FROM variables WHERE scope = ? AND scope_id = ? AND name = ?",
		string(scope), scopeID, name,
	)
	if err != nil {
		return false, fmt.Errorf("remove variable %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Variables lists the variables of one scope owner, by name.
func (tx *Tx) Variables(ctx context.Context, scope model.VariableScope, scopeID string) ([]model.Variable, error) {
	return tx.queryVariables(ctx, `
		SELECT scope, scope_id, name, type, text_value, text_value2, long_value, double_value, bytes_value
		FROM variables
		WHERE scope = ? AND scope_id = ?
		ORDER BY name ASC COLLATE BINARY
	`, string(scope), scopeID)
}

func (tx *Tx) queryVariables(ctx context.Context, stmt string, args ...any) ([]model.Variable, error) {
	rows, err := tx.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	vars := []model.Variable{}
	for rows.Next() {
		var v model.Variable
		var scope, typ string
		var row variableRow
		if err := rows.Scan(&scope, &v.ScopeID, &v.Name, &typ, &row.text, &row.text2, &row.long, &row.double, &row.bytes); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		v.Scope = model.VariableScope(scope)
		row.typ = value.Kind(typ)
		if v.Value, err = row.decode(); err != nil {
			return nil, fmt.Errorf("variable %s: %w", v.Name, err)
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

const commentColumns = "id, task_id, process_instance_id, user_id, time, message"

// InsertComment stores a new comment.
func (tx *Tx) InsertComment(ctx context.Context, c model.Comment) error {
	_, err := tx.q.ExecContext(ctx,
		"INSERT INTO comments ("+commentColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		c.ID, nullString(c.TaskID), nullString(c.ProcessInstanceID), nullString(c.UserID), c.Time.UnixMilli(), c.Message,
	)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// UpdateCommentMessage replaces the text and time of a comment.
func (tx *Tx) UpdateCommentMessage(ctx context.Context, id, message string, at time.Time) error {
	res, err := tx.q.ExecContext(ctx, "UPDATE comments SET message = ?, time = ? WHERE id = ?", message, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update comment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return taskerr.NotFound("comment %s not found", id)
	}
	return nil
}

// Comment returns a comment or NOT_FOUND.
func (tx *Tx) Comment(ctx context.Context, id string) (*model.Comment, error) {
	comments, err := tx.queryComments(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, taskerr.NotFound("comment %s not found", id)
	}
	return &comments[0], nil
}

// DeleteComment removes a comment and reports whether it existed.
func (tx *Tx) DeleteComment(ctx context.Context, id string) (bool, error) {
	res, err := tx.q.ExecContext(ctx, "DELETE FROM comments WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete comment %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteTaskComments removes every comment of a task.
func (tx *Tx) DeleteTaskComments(ctx context.Context, taskID string) (int64, error) {
	return tx.deleteComments(ctx, "task_id", taskID)
}

// DeleteProcessInstanceComments removes every comment of a process instance.
func (tx *Tx) DeleteProcessInstanceComments(ctx context.Context, processInstanceID string) (int64, error) {
	return tx.deleteComments(ctx, "process_instance_id", processInstanceID)
}

func (tx *Tx) deleteComments(ctx context.Context, col, id string) (int64, error) {
	res, err := tx.q.ExecContext(ctx, "DELETE FROM comments WHERE "+col+" = ?", id)
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	return n, nil
}

// TaskComments lists a task's comments, oldest first.
func (tx *Tx) TaskComments(ctx context.Context, taskID string) ([]model.Comment, error) {
	return tx.queryComments(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE task_id = ? ORDER BY time ASC, id ASC COLLATE BINARY", taskID)
}

// ProcessInstanceComments lists a process instance's comments, oldest first.
func (tx *Tx) ProcessInstanceComments(ctx context.Context, processInstanceID string) ([]model.Comment, error) {
	return tx.queryComments(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE process_instance_id = ? ORDER BY time ASC, id ASC COLLATE BINARY", processInstanceID)
}

func (tx *Tx) queryComments(ctx context.Context, stmt string, args ...any) ([]model.Comment, error) {
	rows, err := tx.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		var task, process, user sql.NullString
		var at int64
		if err := rows.Scan(&c.ID, &task, &process, &user, &at, &c.Message); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.TaskID, c.ProcessInstanceID, c.UserID = task.String, process.String, user.String
		c.Time = time.UnixMilli(at).UTC()
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

const attachmentColumns = "id, task_id, process_instance_id, name, description, type, url, content"

// InsertAttachment stores a new attachment.
func (tx *Tx) InsertAttachment(ctx context.Context, a model.Attachment) error {
	_, err := tx.q.ExecContext(ctx,
		"INSERT INTO attachments ("+attachmentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, nullString(a.TaskID), nullString(a.ProcessInstanceID), nullString(a.Name),
		nullString(a.Description), nullString(a.Type), nullString(a.URL), a.Content,
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// UpdateAttachment replaces the name and description of an attachment.
func (tx *Tx) UpdateAttachment(ctx context.Context, a model.Attachment) error {
	res, err := tx.q.ExecContext(ctx,
		"UPDATE attachments SET name = ?, description = ? WHERE id = ?",
		nullString(a.Name), nullString(a.Description), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update attachment %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return taskerr.NotFound("attachment %s not found", a.ID)
	}
	return nil
}

// Attachment returns an attachment or NOT_FOUND.
func (tx *Tx) Attachment(ctx context.Context, id string) (*model.Attachment, error) {
	atts, err := tx.queryAttachments(ctx, "SELECT "+attachmentColumns+" FROM attachments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(atts) == 0 {
		return nil, taskerr.NotFound("attachment %s not found", id)
	}
	return &atts[0], nil
}

// DeleteAttachment removes an attachment and reports whether it existed.
func (tx *Tx) DeleteAttachment(ctx context.Context, id string) (bool, error) {
	res, err := tx.q.ExecContext(ctx, "DELETE FROM attachments WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete attachment %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TaskAttachments lists a task's attachments by id.
func (tx *Tx) TaskAttachments(ctx context.Context, taskID string) ([]model.Attachment, error) {
	return tx.queryAttachments(ctx,
		"SELECT "+attachmentColumns+" FROM attachments WHERE task_id = ? ORDER BY id ASC COLLATE BINARY", taskID)
}

func (tx *Tx) queryAttachments(ctx context.Context, stmt string, args ...any) ([]model.Attachment, error) {
	rows, err := tx.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	atts := []model.Attachment{}
	for rows.Next() {
		var a model.Attachment
		var task, process, name, desc, typ, url sql.NullString
		if err := rows.Scan(&a.ID, &task, &process, &name, &desc, &typ, &url, &a.Content); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.TaskID, a.ProcessInstanceID = task.String, process.String
		a.Name, a.Description, a.Type, a.URL = name.String, desc.String, typ.String, url.String
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// AddMembership places a user in a group. Repeated calls are harmless.
func (tx *Tx) AddMembership(ctx context.Context, m model.Membership) error {
	_, err := tx.q.ExecContext(ctx,
		"INSERT INTO memberships (user_id, group_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
		m.UserID, m.GroupID,
	)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

// GroupsForUser lists the groups of a user from the memberships table. It
// makes the store usable as an identity.GroupResolver.
func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT group_id FROM memberships WHERE user_id = ? ORDER BY group_id ASC COLLATE BINARY", userID)
	if err != nil {
		return nil, fmt.Errorf("groups for user %s: %w", userID, err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
