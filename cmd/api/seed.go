package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
)

const (
	demoCurriculumID = "go-foundations"
	demoGroupID      = "go-foundations-a"
	demoSessions     = 12
)

// demoStudent - студент демо-группы: баланс дней и число посещённых занятий первого уровня.
type demoStudent struct {
	id       string
	credit   int
	attended int
}

var demoStudents = []demoStudent{
	{id: "student-aruzhan", credit: 120, attended: 12},
	{id: "student-dias", credit: 90, attended: 10},
	{id: "student-madina", credit: 90, attended: 6},
	{id: "student-timur", credit: 20, attended: 11},
}

// seedDemoData заполняет пустое хранилище демо-программой, группой и посещаемостью.
// Повторный запуск ничего не меняет.
func seedDemoData(ctx context.Context, st store, now time.Time) error {
	_, err := st.curricula.GetByID(ctx, demoCurriculumID)
	if err == nil {
		return nil
	}
	if !shared.IsNotFound(err) {
		return err
	}

	cur, err := curriculum.NewCurriculum(curriculum.NewCurriculumParams{
		ID:      demoCurriculumID,
		Name:    "Go Foundations",
		Version: 1,
		Levels: []curriculum.Level{
			{Order: 1, Name: "Syntax and tooling", DurationDays: 30, SessionsCount: demoSessions},
			{Order: 2, Name: "Concurrency", DurationDays: 45, SessionsCount: demoSessions},
			{Order: 3, Name: "Services", DurationDays: 60, SessionsCount: demoSessions},
		},
	})
	if err != nil {
		return err
	}
	if err := st.curricula.Save(ctx, cur); err != nil {
		return err
	}

	ids := make([]string, len(demoStudents))
	for i, s := range demoStudents {
		ids[i] = s.id
		sub, err := subscription.NewSubscription(subscription.NewSubscriptionParams{
			ID:               "sub-" + s.id,
			StudentID:        s.id,
			CurriculumID:     demoCurriculumID,
			AccessCreditDays: s.credit,
			Now:              now,
		})
		if err != nil {
			return err
		}
		if err := st.subscriptions.Create(ctx, sub); err != nil && !errors.Is(err, shared.ErrSubscriptionExists) {
			return err
		}
	}

	g, err := group.NewGroup(group.NewGroupParams{
		ID:           demoGroupID,
		Name:         "Go Foundations, stream A",
		CurriculumID: demoCurriculumID,
		Students:     ids,
		MinSize:      2,
		MaxSize:      12,
		Now:          now,
	})
	if err != nil {
		return err
	}
	if err := st.groups.Create(ctx, g); err != nil && !errors.Is(err, shared.ErrGroupExists) {
		return err
	}

	for n := 1; n <= demoSessions; n++ {
		session := attendance.Session{
			ID:            fmt.Sprintf("%s-l1-s%02d", demoCurriculumID, n),
			CurriculumID:  demoCurriculumID,
			GroupID:       demoGroupID,
			Level:         1,
			SessionNumber: n,
			HeldAt:        now.AddDate(0, 0, n-demoSessions-1),
		}
		for _, s := range demoStudents {
			status := attendance.StatusAbsent
			if n <= s.attended {
				status = attendance.StatusPresent
			}
			session.Entries = append(session.Entries, attendance.Entry{StudentID: s.id, Status: status})
		}
		if err := st.attendance.Append(ctx, session); err != nil {
			return err
		}
	}
	return nil
}
