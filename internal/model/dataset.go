package model

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/taskq/internal/value"
)

// Dataset is a bulk snapshot of the entities queries read. It is the unit
// loaded into a store and evaluated by the in-memory adapter.
type Dataset struct {
	Tasks       []Task
	Links       []IdentityLink
	Variables   []Variable
	Memberships []Membership
}

// GroupsForUser lists the groups user belongs to, in dataset order.
func (d *Dataset) GroupsForUser(user string) []string {
	var groups []string
	for _, m := range d.Memberships {
		if m.UserID == user {
			groups = append(groups, m.GroupID)
		}
	}
	return groups
}

// TaskByID returns the task with id.
func (d *Dataset) TaskByID(id string) (*Task, bool) {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i], true
		}
	}
	return nil, false
}

type datasetDoc struct {
	Tasks       []Task         `yaml:"tasks"`
	Links       []IdentityLink `yaml:"identityLinks"`
	Variables   []variableDoc  `yaml:"variables"`
	Memberships []Membership   `yaml:"memberships"`
}

type variableDoc struct {
	Scope   VariableScope `yaml:"scope"`
	ScopeID string        `yaml:"scopeId"`
	Name    string        `yaml:"name"`
	Value   value.Wire    `yaml:"value"`
}

// DecodeDataset reads a YAML dataset document.
//
// Example:
//
//	tasks:
//	  - {id: t1, name: review, priority: 50, createTime: 2024-01-01T00:00:00Z}
//	identityLinks:
//	  - {taskId: t1, type: candidate, groupId: management}
//	variables:
//	  - {scope: task, scopeId: t1, name: amount, value: {type: long, value: 100}}
//	memberships:
//	  - {userId: kermit, groupId: management}
func DecodeDataset(r io.Reader) (*Dataset, error) {
	var doc datasetDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return &Dataset{}, nil
		}
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	ds := &Dataset{Tasks: doc.Tasks, Links: doc.Links, Memberships: doc.Memberships}
	for i := range ds.Tasks {
		t := &ds.Tasks[i]
		if t.ID == "" {
			return nil, fmt.Errorf("task %d: id is required", i)
		}
		t.CreateTime = Millis(t.CreateTime)
		t.DueDate = MillisPtr(t.DueDate)
		t.FollowUpDate = MillisPtr(t.FollowUpDate)
		t.LastUpdated = MillisPtr(t.LastUpdated)
		if t.Version == 0 {
			t.Version = 1
		}
	}
	for i, l := range ds.Links {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("identity link %d: %w", i, err)
		}
	}
	for i, vd := range doc.Variables {
		if _, err := ParseVariableScope(string(vd.Scope)); err != nil {
			return nil, fmt.Errorf("variable %d: %w", i, err)
		}
		v, err := value.FromWire(vd.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", vd.Name, err)
		}
		ds.Variables = append(ds.Variables, Variable{Scope: vd.Scope, ScopeID: vd.ScopeID, Name: vd.Name, Value: v})
	}
	return ds, nil
}
