// Package orgselect owns the client-side organization switcher: it loads the
// caller's organizations, auto-selects one when none is active, and switches
// the active organization through the identity service.
package orgselect

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// ErrBusy is returned by Select while a load or switch is in flight.
var ErrBusy = errors.New("organization selector is busy")

// DefaultSwitchError is shown when the service gives no message of its own.
const DefaultSwitchError = "Failed to switch organization"

// SwitchedMessage is shown after a successful switch.
const SwitchedMessage = "Organization updated"

// State is the selector's lifecycle state.
type State int

// Selector states.
const (
	StateLoading State = iota
	StateReady
	StateSwitching
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSwitching:
		return "switching"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IdentityService is the backing session and organization API.
type IdentityService interface {
	ListOrganizations(ctx context.Context) ([]store.MemberOrganization, error)
	ActiveOrganization(ctx context.Context) (*store.MemberOrganization, error)
	SetActiveOrganization(ctx context.Context, organizationID *string) error
}

// QueryCache is the client query cache.
type QueryCache interface {
	Invalidate(key QueryKey)
	InvalidateAll()
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Error(msg string)
	Success(msg string)
}

// UserMessager is implemented by errors that carry a message fit for users.
type UserMessager interface {
	UserMessage() string
}

// Selector holds one session's organization state.
type Selector struct {
	identity IdentityService
	cache    QueryCache
	notifier Notifier
	logger   *zap.Logger

	mu           sync.Mutex
	state        State
	orgs         []store.MemberOrganization
	orgsLoaded   bool
	active       *store.MemberOrganization
	activeLoaded bool
	autoSelected bool
}

// New builds a Selector in the loading state.
func New(identity IdentityService, cache QueryCache, notifier Notifier, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		identity: identity,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		state:    StateLoading,
	}
}

// Load fetches the organization list and the active organization, enters
// ready, and runs auto-selection.
func (s *Selector) Load(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateLoading
	s.mu.Unlock()

	orgs, listErr := s.identity.ListOrganizations(ctx)
	active, activeErr := s.identity.ActiveOrganization(ctx)

	if listErr == nil {
		s.SetOrganizations(orgs)
	}
	if activeErr == nil {
		s.SetActive(active)
	}

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()

	if err := errors.Join(listErr, activeErr); err != nil {
		return fmt.Errorf("load organizations: %w", err)
	}
	s.AutoSelect(ctx)
	return nil
}

// SetOrganizations applies a refreshed organization list.
func (s *Selector) SetOrganizations(orgs []store.MemberOrganization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs = append([]store.MemberOrganization(nil), orgs...)
	s.orgsLoaded = true
}

// SetActive applies a refreshed active organization. Going from present to
// absent re-arms auto-selection.
func (s *Selector) SetActive(active *store.MemberOrganization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setActiveLocked(active)
}

func (s *Selector) setActiveLocked(active *store.MemberOrganization) {
	if s.active != nil && active == nil {
		s.autoSelected = false
	}
	s.active = cloneOrg(active)
	s.activeLoaded = true
}

// AutoSelect marks the first organization active when both queries have
// settled, the selector is ready, none is active and the guard is unset.
// It reports whether a persist call was issued.
func (s *Selector) AutoSelect(ctx context.Context) bool {
	s.mu.Lock()
	if !s.orgsLoaded || !s.activeLoaded || s.state != StateReady ||
		s.active != nil || len(s.orgs) == 0 || s.autoSelected {
		s.mu.Unlock()
		return false
	}
	first := s.orgs[0]
	s.autoSelected = true
	s.active = cloneOrg(&first)
	s.mu.Unlock()

	id := first.ID
	if err := s.identity.SetActiveOrganization(ctx, &id); err != nil {
		s.logger.Error("auto-select organization failed", zap.String("organization_id", id), zap.Error(err))
		s.mu.Lock()
		if s.active != nil && s.active.ID == id {
			s.active = nil
		}
		s.autoSelected = false
		s.mu.Unlock()
		return true
	}
	s.cache.Invalidate(KeyActiveOrganization)
	return true
}

// Select switches the active organization. Selecting the current one,
// including nil when none is active, does nothing.
func (s *Selector) Select(ctx context.Context, organizationID *string) error {
	s.mu.Lock()
	if sameOrg(s.active, organizationID) {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateSwitching
	s.mu.Unlock()

	if err := s.identity.SetActiveOrganization(ctx, organizationID); err != nil {
		s.notifier.Error(switchMessage(err))
		s.mu.Lock()
		s.state = StateReady
		s.mu.Unlock()
		return fmt.Errorf("switch organization: %w", err)
	}

	s.cache.Invalidate(KeyActiveOrganization)
	s.cache.InvalidateAll()

	active, err := s.identity.ActiveOrganization(ctx)
	if err != nil {
		s.logger.Warn("refetch active organization failed", zap.Error(err))
		active = s.lookup(organizationID)
	}

	s.mu.Lock()
	s.setActiveLocked(active)
	s.state = StateReady
	s.mu.Unlock()

	s.notifier.Success(SwitchedMessage)
	return nil
}

// State returns the current lifecycle state.
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns a copy of the active organization, or nil.
func (s *Selector) Active() *store.MemberOrganization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrg(s.active)
}

// Organizations returns the loaded list.
func (s *Selector) Organizations() []store.MemberOrganization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.MemberOrganization(nil), s.orgs...)
}

// View partitions the loaded organizations for display.
func (s *Selector) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Partition(s.orgs, s.active)
}

func (s *Selector) lookup(organizationID *string) *store.MemberOrganization {
	if organizationID == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, org := range s.orgs {
		if org.ID == *organizationID {
			return cloneOrg(&org)
		}
	}
	return nil
}

func sameOrg(active *store.MemberOrganization, organizationID *string) bool {
	if active == nil || organizationID == nil {
		return active == nil && organizationID == nil
	}
	return active.ID == *organizationID
}

func switchMessage(err error) string {
	var um UserMessager
	if errors.As(err, &um) && um.UserMessage() != "" {
		return um.UserMessage()
	}
	return DefaultSwitchError
}

func cloneOrg(org *store.MemberOrganization) *store.MemberOrganization {
	if org == nil {
		return nil
	}
	cp := *org
	return &cp
}
