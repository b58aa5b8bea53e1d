// Package pending lists students who still need a bed.
package pending

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"hostel-allocation-backend/internal/model"
)

// Filter narrows the pending list. Zero values mean "no restriction".
type Filter struct {
	Gender    model.Gender
	ClassName string
	Limit     int
	Offset    int
}

// Queue reads the placement work list straight from committed rows.
type Queue struct {
	db *gorm.DB
}

// New creates a Queue over db.
func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Students returns active students with no ACTIVE allocation, ordered by
// admission date then name.
func (q *Queue) Students(ctx context.Context, f Filter) ([]model.Student, error) {
	query := q.db.WithContext(ctx).
		Model(&model.Student{}).
		Where("students.active = ?", true).
		Where("NOT EXISTS (SELECT 1 FROM allocations WHERE allocations.student_id = students.id AND allocations.status = ?)", model.AllocationActive)

	if f.Gender != "" {
		query = query.Where("students.gender = ?", f.Gender)
	}
	if f.ClassName != "" {
		query = query.Where("students.class_name = ?", f.ClassName)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var students []model.Student
	if err := query.Order("students.admission_date ASC").Order("students.name ASC").Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending students: %w", err)
	}
	return students, nil
}
