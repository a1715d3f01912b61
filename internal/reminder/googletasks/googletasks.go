// Package googletasks mirrors task reminders into a Google Tasks list so the
// Google Tasks apps notify on the due date.
package googletasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"tasks/internal/config"
	apperrors "tasks/internal/errors"
	"tasks/internal/storage"
)

const (
	// Provider names the link rows this package owns.
	Provider = "google"

	// DefaultListID is the special ID for the user's default list.
	DefaultListID = "@default"

	// APITimeout is the timeout for API calls.
	APITimeout = 5 * time.Second

	tasksScope = "https://www.googleapis.com/auth/tasks"
)

// Store is the local state the scheduler reads tasks from and keeps
// remote ids in.
type Store interface {
	Find(ctx context.Context, id int64) (storage.Task, bool, error)
	RemoteID(ctx context.Context, taskID int64, provider string) (string, bool, error)
	SetRemoteID(ctx context.Context, taskID int64, provider, remoteID string) error
}

type Scheduler struct {
	svc    *tasks.Service
	store  Store
	listID string
}

// New builds a scheduler from the OAuth client and token files named in
// cfg.
func New(ctx context.Context, cfg config.Google, store Store) (*Scheduler, error) {
	clientJSON, err := os.ReadFile(cfg.OAuthClient)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth client: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(clientJSON, tasksScope)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth client: %w", err)
	}

	tokenData, err := os.ReadFile(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	httpClient := oauth2.NewClient(ctx, oauthConfig.TokenSource(ctx, &token))
	return NewWithHTTPClient(ctx, httpClient, store, cfg.ListID)
}

// NewWithHTTPClient creates a scheduler with a custom HTTP client (for testing).
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, store Store, listID string, opts ...option.ClientOption) (*Scheduler, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}
	if listID == "" {
		listID = DefaultListID
	}
	return &Scheduler{svc: svc, store: store, listID: listID}, nil
}

// Schedule creates the remote copy of the task on first use and patches it
// afterwards. A remote copy deleted by the user is recreated.
func (s *Scheduler) Schedule(ctx context.Context, taskID int64, due time.Time) error {
	task, ok, err := s.store.Find(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewNotFoundError("task", fmt.Sprintf("%d", taskID))
	}

	remote := &tasks.Task{
		Title: task.Title,
		Notes: task.Body,
		Due:   due.UTC().Format(time.RFC3339),
	}

	remoteID, linked, err := s.store.RemoteID(ctx, taskID, Provider)
	if err != nil {
		return err
	}
	if linked {
		err := s.patch(ctx, remoteID, remote)
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return apperrors.NewRemoteError("patch task", err)
		}
		log.Printf("googletasks: remote task %s for #%d is gone, recreating", remoteID, taskID)
	}

	created, err := s.insert(ctx, remote)
	if err != nil {
		return apperrors.NewRemoteError("insert task", err)
	}
	return s.store.SetRemoteID(ctx, taskID, Provider, created.Id)
}

func (s *Scheduler) insert(ctx context.Context, t *tasks.Task) (*tasks.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	return s.svc.Tasks.Insert(s.listID, t).Context(ctx).Do()
}

func (s *Scheduler) patch(ctx context.Context, remoteID string, t *tasks.Task) error {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	_, err := s.svc.Tasks.Patch(s.listID, remoteID, t).Context(ctx).Do()
	return err
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
