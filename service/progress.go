package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"worker-walkthrough/constant"
	"worker-walkthrough/dto"
)

const (
	stepCompose  = "compose"
	stepFinalize = "finalize"
)

type run struct {
	progress dto.Progress
	started  time.Time
	cancel   context.CancelFunc
}

// ProgressStore holds the live progress of generation and classification runs, plus the
// cancel function of every active generation.
type ProgressStore struct {
	mu             sync.Mutex
	runs           map[uuid.UUID]*run
	classification map[uuid.UUID]dto.ClassificationProgress
	now            func() time.Time
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		runs:           make(map[uuid.UUID]*run),
		classification: make(map[uuid.UUID]dto.ClassificationProgress),
		now:            time.Now,
	}
}

// generationSteps is one step per room followed by composition and finalization.
func generationSteps(groups []RoomGroup) []dto.Step {
	steps := make([]dto.Step, 0, len(groups)+2)
	for _, g := range groups {
		steps = append(steps, dto.Step{Key: g.RoomID(), Label: "Generating " + g.Label, Status: constant.StepStatusPending})
	}
	steps = append(steps,
		dto.Step{Key: stepCompose, Label: "Composing video", Status: constant.StepStatusPending},
		dto.Step{Key: stepFinalize, Label: "Finalizing", Status: constant.StepStatusPending},
	)
	return steps
}

// Start registers a run. It reports false when the project already has an active run.
func (s *ProgressStore) Start(projectID uuid.UUID, steps []dto.Step, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.runs[projectID]; ok && r.cancel != nil {
		return false
	}
	now := s.now()
	s.runs[projectID] = &run{
		started: now,
		cancel:  cancel,
		progress: dto.Progress{
			ProjectId:  projectID,
			Status:     constant.GenerationStatusProcessingRooms,
			TotalSteps: len(steps),
			Steps:      steps,
			UpdatedAt:  now,
		},
	}
	s.recompute(s.runs[projectID])
	return true
}

func (s *ProgressStore) SetStatus(projectID uuid.UUID, status constant.GenerationStatus) {
	s.update(projectID, func(r *run) {
		r.progress.Status = status
	})
}

func (s *ProgressStore) SetStep(projectID uuid.UUID, key string, status constant.StepStatus) {
	s.update(projectID, func(r *run) {
		for i := range r.progress.Steps {
			if r.progress.Steps[i].Key == key {
				r.progress.Steps[i].Status = status
			}
		}
	})
}

func (s *ProgressStore) Complete(projectID uuid.UUID) {
	s.update(projectID, func(r *run) {
		r.progress.Status = constant.GenerationStatusCompleted
		for i := range r.progress.Steps {
			if r.progress.Steps[i].Status != constant.StepStatusFailed {
				r.progress.Steps[i].Status = constant.StepStatusCompleted
			}
		}
	})
}

func (s *ProgressStore) Fail(projectID uuid.UUID, msg string) {
	s.update(projectID, func(r *run) {
		r.progress.Status = constant.GenerationStatusFailed
		r.progress.Error = msg
		for i := range r.progress.Steps {
			if r.progress.Steps[i].Status == constant.StepStatusInProgress {
				r.progress.Steps[i].Status = constant.StepStatusFailed
			}
		}
	})
}

// Finish drops the cancel function; the last progress snapshot stays readable.
func (s *ProgressStore) Finish(projectID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[projectID]; ok {
		r.cancel = nil
	}
}

// Cancel stops the active run of a project. It reports false when nothing is running.
func (s *ProgressStore) Cancel(projectID uuid.UUID) bool {
	s.mu.Lock()
	r, ok := s.runs[projectID]
	var cancel context.CancelFunc
	if ok {
		cancel = r.cancel
	}
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

func (s *ProgressStore) Get(projectID uuid.UUID) (dto.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[projectID]
	if !ok {
		return dto.Progress{}, false
	}
	p := r.progress
	p.Steps = append([]dto.Step(nil), r.progress.Steps...)
	return p, true
}

func (s *ProgressStore) SetClassification(p dto.ClassificationProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classification[p.ProjectId] = p
}

func (s *ProgressStore) Classification(projectID uuid.UUID) (dto.ClassificationProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.classification[projectID]
	return p, ok
}

func (s *ProgressStore) update(projectID uuid.UUID, fn func(r *run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[projectID]
	if !ok {
		return
	}
	fn(r)
	s.recompute(r)
}

// recompute derives counts, percentage, current step and ETA. Failed steps count as done.
func (s *ProgressStore) recompute(r *run) {
	p := &r.progress
	done := 0
	p.CurrentStep = ""
	for _, st := range p.Steps {
		switch st.Status {
		case constant.StepStatusCompleted, constant.StepStatusFailed:
			done++
		case constant.StepStatusInProgress:
			if p.CurrentStep == "" {
				p.CurrentStep = st.Label
			}
		}
	}
	if p.CurrentStep == "" {
		for _, st := range p.Steps {
			if st.Status == constant.StepStatusPending {
				p.CurrentStep = st.Label
				break
			}
		}
	}
	p.CompletedSteps = done

	switch {
	case p.Status == constant.GenerationStatusCompleted:
		p.Percentage = 100
	case p.TotalSteps > 0:
		p.Percentage = done * 100 / p.TotalSteps
	}

	now := s.now()
	p.EstimatedSeconds = 0
	if done > 0 && done < p.TotalSteps && p.Status != constant.GenerationStatusFailed {
		elapsed := now.Sub(r.started)
		perStep := elapsed / time.Duration(done)
		p.EstimatedSeconds = int((perStep * time.Duration(p.TotalSteps-done)).Seconds())
	}
	p.UpdatedAt = now
}
