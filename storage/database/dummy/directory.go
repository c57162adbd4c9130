package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/masomo-billing/core/fee"
)

type directory struct {
	db *directoryTables
}

var _ fee.Directory = (*directory)(nil) // interface compliance check

func NewDirectory(db *DB) fee.Directory {
	return &directory{db: db.dir}
}

func (dir *directory) GetStudent(_ context.Context, id string) (fee.Student, error) {
	dir.db.RLock()
	defer dir.db.RUnlock()

	if s, ok := dir.db.students[id]; ok {
		return *s, nil
	}
	return fee.Student{}, fee.ErrStudentNotFound
}

func (dir *directory) GetFamily(_ context.Context, id string) (fee.Family, error) {
	dir.db.RLock()
	defer dir.db.RUnlock()

	if f, ok := dir.db.families[id]; ok {
		return *f, nil
	}
	return fee.Family{}, fee.ErrFamilyNotFound
}

func (dir *directory) GetActiveSubscriptions(_ context.Context, studentID string, period fee.Period) ([]fee.Subscription, error) {
	dir.db.RLock()
	defer dir.db.RUnlock()

	if _, ok := dir.db.students[studentID]; !ok {
		return nil, fee.ErrStudentNotFound
	}
	subs := dir.db.billableSubscriptions(studentID, period)
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].StartDate.Equal(subs[j].StartDate) {
			return subs[i].StartDate.Before(subs[j].StartDate)
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

func (dir *directory) GetActiveSiblingCount(_ context.Context, familyID string, period fee.Period) (int, error) {
	dir.db.RLock()
	defer dir.db.RUnlock()

	var count int
	for _, s := range dir.db.students {
		if s.FamilyID == familyID && s.IsActive && len(dir.db.billableSubscriptions(s.ID, period)) > 0 {
			count++
		}
	}
	return count, nil
}

func (dir *directory) ListActiveStudents(_ context.Context, period fee.Period) ([]fee.Student, error) {
	dir.db.RLock()
	defer dir.db.RUnlock()

	var students []fee.Student
	for _, s := range dir.db.students {
		if s.IsActive && len(dir.db.billableSubscriptions(s.ID, period)) > 0 {
			students = append(students, *s)
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	return students, nil
}
