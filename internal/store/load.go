package store

import (
	"context"
	"fmt"

	"github.com/roach88/taskq/internal/model"
)

// Load inserts a dataset in one transaction. Tasks keep their versions;
// identity links without an id get a generated one.
func (s *Store) Load(ctx context.Context, ds *model.Dataset) error {
	err := s.WithTx(ctx, func(tx *Tx) error {
		for i := range ds.Tasks {
			t := ds.Tasks[i]
			if t.Version == 0 {
				t.Version = 1
			}
			if err := tx.insertTask(ctx, &t); err != nil {
				return err
			}
		}
		for _, l := range ds.Links {
			if l.ID == "" {
				l.ID = s.ids.Generate()
			}
			if err := tx.AddLink(ctx, l); err != nil {
				return err
			}
		}
		for _, v := range ds.Variables {
			if err := tx.SetVariable(ctx, v); err != nil {
				return err
			}
		}
		for _, m := range ds.Memberships {
			if err := tx.AddMembership(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	s.logger.Info("dataset loaded",
		"tasks", len(ds.Tasks),
		"links", len(ds.Links),
		"variables", len(ds.Variables),
		"memberships", len(ds.Memberships),
	)
	return nil
}

// Snapshot reads every task, link, variable and membership back into a
// dataset. Tasks are ordered by id.
func (s *Store) Snapshot(ctx context.Context) (*model.Dataset, error) {
	ds := &model.Dataset{}
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		ds.Tasks, err = queryTasks(ctx, tx.q, selectTask+" ORDER BY id ASC COLLATE BINARY")
		if err != nil {
			return err
		}
		for _, t := range ds.Tasks {
			links, err := tx.Links(ctx, t.ID)
			if err != nil {
				return err
			}
			ds.Links = append(ds.Links, links...)
		}
		ds.Variables, err = tx.queryVariables(ctx, `
			SELECT scope, scope_id, name, type, text_value, text_value2, long_value, double_value, bytes_value
			FROM variables
			ORDER BY scope, scope_id, name
		`)
		if err != nil {
			return err
		}
		rows, err := tx.q.QueryContext(ctx, "SELECT user_id, group_id FROM memberships ORDER BY user_id, group_id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m model.Membership
			if err := rows.Scan(&m.UserID, &m.GroupID); err != nil {
				return err
			}
			ds.Memberships = append(ds.Memberships, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return ds, nil
}
