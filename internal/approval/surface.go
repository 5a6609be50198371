package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

var (
	// ErrNoPending is returned when approve/cancel find nothing awaiting the user.
	ErrNoPending = errors.New("no request awaiting approval")
	// ErrRequestMismatch is returned when the id does not match the pending request.
	ErrRequestMismatch = errors.New("request is not the pending one")
	// ErrBusy is returned by Present while an approval is executing.
	ErrBusy = errors.New("surface is executing an approval")
)

// Presenter renders surfaces. Implementations must not call back into the
// surface synchronously.
type Presenter interface {
	Present(category Category, req *dapp.Request, view any)
	Close(category Category, requestID string)
}

// Config parameterises a Surface with its category behaviour.
type Config[In, Out any] struct {
	Category Category

	// Execute performs the approve action. Errors that are not *dapp.Error are
	// reported to the dApp as SigningFailure with FailureMessage.
	Execute func(ctx context.Context, req *dapp.Request, in In) (Out, error)

	// Guard, when set, must pass before Execute runs. A failing guard leaves
	// the request presented.
	Guard func(req *dapp.Request, in In) error

	// Reject builds the cancel response. Defaults to a UserRejected error with
	// CancelMessage.
	Reject func(req *dapp.Request, in In) dapp.Response

	CancelMessage  string
	FailureMessage string

	// Respond delivers a response. It is always called without the surface lock.
	Respond func(req *dapp.Request, resp dapp.Response)

	Presenter Presenter

	// OnSuperseded and OnFailed are optional notification hooks.
	OnSuperseded func(old *dapp.Request)
	OnFailed     func(req *dapp.Request, err error)

	Log *logger.Logger
}

// Pending is a snapshot of the request held by a surface.
type Pending[In any] struct {
	Request *dapp.Request
	Input   In
	State   State
}

// Surface is the single-slot approval state machine:
// Idle -> Presented -> (Executing) -> Approved|Rejected -> Idle.
type Surface[In, Out any] struct {
	cfg Config[In, Out]
	log *logger.Logger

	mu      sync.Mutex
	state   State
	request *dapp.Request
	input   In
}

// NewSurface creates an idle surface.
func NewSurface[In, Out any](cfg Config[In, Out]) *Surface[In, Out] {
	if cfg.CancelMessage == "" {
		cfg.CancelMessage = dapp.MsgUserRejectedThe
	}
	if cfg.FailureMessage == "" {
		cfg.FailureMessage = dapp.MsgInternal
	}
	if cfg.Respond == nil {
		cfg.Respond = func(*dapp.Request, dapp.Response) {}
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("approval")
	}
	return &Surface[In, Out]{
		cfg: cfg,
		log: log.WithComponent("surface." + string(cfg.Category)),
	}
}

// Category returns the surface category.
func (s *Surface[In, Out]) Category() Category { return s.cfg.Category }

// State returns the current state.
func (s *Surface[In, Out]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the request awaiting the user or being executed, if any.
// Approve and Cancel return the surface to Idle once the response is sent.
func (s *Surface[In, Out]) Current() (Pending[In], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request == nil {
		return Pending[In]{}, false
	}
	return Pending[In]{Request: s.request, Input: s.input, State: s.state}, true
}

// Present stores req as the pending request and shows it. A request still
// awaiting the user is answered with a Superseded error first. While an
// approval is executing the new request is answered with Busy instead.
func (s *Surface[In, Out]) Present(req *dapp.Request, in In) error {
	s.mu.Lock()
	if s.state == StateExecuting {
		s.mu.Unlock()
		s.log.WithField("id", req.ID).Debug("surface busy, rejecting request")
		s.cfg.Respond(req, dapp.Failure(req, dapp.NewError(dapp.KindBusy, dapp.MsgSurfaceBusy)))
		return ErrBusy
	}

	var replaced *dapp.Request
	if s.state == StatePresented {
		replaced = s.request
	}
	s.request, s.input, s.state = req, in, StatePresented
	s.mu.Unlock()

	if replaced != nil {
		s.log.WithField("id", replaced.ID).WithField("by", req.ID).Debug("pending request superseded")
		s.cfg.Respond(replaced, dapp.Failure(replaced, dapp.NewError(dapp.KindSuperseded, dapp.MsgSuperseded)))
		if s.cfg.Presenter != nil {
			s.cfg.Presenter.Close(s.cfg.Category, replaced.ID)
		}
		if s.cfg.OnSuperseded != nil {
			s.cfg.OnSuperseded(replaced)
		}
	}

	s.log.WithField("id", req.ID).Debug("presented")
	if s.cfg.Presenter != nil {
		s.cfg.Presenter.Present(s.cfg.Category, req, in)
	}
	return nil
}

// Amend updates the input of the pending request, e.g. after the user picks
// another account or gas resolution finishes.
func (s *Surface[In, Out]) Amend(id string, fn func(*In)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(id); err != nil {
		return err
	}
	fn(&s.input)
	return nil
}

// Approve runs the category action for the pending request id and sends
// exactly one response: Success with the action's result, or an error when
// the action fails. amend, when non-nil, is applied to the input first.
func (s *Surface[In, Out]) Approve(ctx context.Context, id string, amend func(*In)) (Out, error) {
	var zero Out

	s.mu.Lock()
	if err := s.checkLocked(id); err != nil {
		s.mu.Unlock()
		return zero, err
	}
	if amend != nil {
		amend(&s.input)
	}
	req, in := s.request, s.input
	if s.cfg.Guard != nil {
		if err := s.cfg.Guard(req, in); err != nil {
			s.mu.Unlock()
			return zero, err
		}
	}
	s.state = StateExecuting
	s.mu.Unlock()

	out, err := s.cfg.Execute(ctx, req, in)

	s.mu.Lock()
	if err != nil {
		s.state = StateRejected
	} else {
		s.state = StateApproved
	}
	s.mu.Unlock()

	if err != nil {
		var de *dapp.Error
		if !errors.As(err, &de) {
			de = dapp.Wrap(dapp.KindSigningFailure, s.cfg.FailureMessage, err)
		}
		s.log.WithField("id", req.ID).WithError(err).Warn("approval failed")
		s.cfg.Respond(req, dapp.Failure(req, de))
		if s.cfg.OnFailed != nil {
			s.cfg.OnFailed(req, err)
		}
	} else {
		s.log.WithField("id", req.ID).Debug("approved")
		s.cfg.Respond(req, dapp.Success(req, out))
	}
	s.close(req.ID)
	if err != nil {
		return zero, fmt.Errorf("%s approval: %w", s.cfg.Category, err)
	}
	return out, nil
}

// Cancel answers the pending request id with the category's reject response.
func (s *Surface[In, Out]) Cancel(id string) error {
	s.mu.Lock()
	if err := s.checkLocked(id); err != nil {
		s.mu.Unlock()
		return err
	}
	req, in := s.request, s.input
	s.state = StateRejected
	s.mu.Unlock()

	s.log.WithField("id", req.ID).Debug("cancelled")
	s.cfg.Respond(req, s.rejection(req, in))
	s.close(req.ID)
	return nil
}

// Dismiss handles a non-programmatic close. A request still awaiting the user
// is cancelled implicitly. An executing one is left to its approve path. It
// reports whether a response was sent.
func (s *Surface[In, Out]) Dismiss() bool {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateExecuting:
		s.mu.Unlock()
		return false
	case StateApproved, StateRejected:
		s.clearLocked()
		s.mu.Unlock()
		return false
	}
	req, in := s.request, s.input
	s.clearLocked()
	s.mu.Unlock()

	s.log.WithField("id", req.ID).Debug("dismissed without decision")
	s.cfg.Respond(req, s.rejection(req, in))
	return true
}

func (s *Surface[In, Out]) rejection(req *dapp.Request, in In) dapp.Response {
	if s.cfg.Reject != nil {
		return s.cfg.Reject(req, in)
	}
	return dapp.Failure(req, dapp.NewError(dapp.KindUserRejected, s.cfg.CancelMessage))
}

// close returns the surface to Idle once the answered request id is still
// the one held, then closes its view.
func (s *Surface[In, Out]) close(id string) {
	s.mu.Lock()
	if s.request != nil && s.request.ID == id && s.state.IsResolved() {
		s.clearLocked()
	}
	s.mu.Unlock()

	if s.cfg.Presenter != nil {
		s.cfg.Presenter.Close(s.cfg.Category, id)
	}
}

func (s *Surface[In, Out]) checkLocked(id string) error {
	if s.state != StatePresented || s.request == nil {
		return ErrNoPending
	}
	if s.request.ID != id {
		return fmt.Errorf("%w: pending %s, got %s", ErrRequestMismatch, s.request.ID, id)
	}
	return nil
}

func (s *Surface[In, Out]) clearLocked() {
	var zero In
	s.state, s.request, s.input = StateIdle, nil, zero
}
