// Package contact handles contact form submissions.
package contact

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Submission is a validated contact form body.
type Submission struct {
	Name    string
	Email   string
	Phone   string
	Subject string
	Message string
}

// Message is a stored contact submission.
type Message struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Phone     string
	Subject   string
	Message   string
	CreatedAt time.Time
}

// Repository persists contact messages.
type Repository interface {
	Save(ctx context.Context, m *Message) error
}

// Notifier delivers a contact message to the shop staff.
type Notifier interface {
	Notify(ctx context.Context, m *Message) error
}

// Service accepts contact submissions.
type Service struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
}

// NewService creates a contact Service. repo may be nil, in which case
// messages are only delivered through the notifier.
func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
	}
}

// Submit stores the submission when a repository is configured and then
// notifies staff. The returned message carries the assigned ID.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Message, error) {
	m := &Message{
		ID:        uuid.New(),
		Name:      sub.Name,
		Email:     sub.Email,
		Phone:     sub.Phone,
		Subject:   sub.Subject,
		Message:   sub.Message,
		CreatedAt: s.now().UTC(),
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, m); err != nil {
			return nil, errors.Wrap(err, "save contact message")
		}
	}

	if err := s.notifier.Notify(ctx, m); err != nil {
		return nil, errors.Wrap(err, "notify")
	}

	return m, nil
}
