// Package wallet holds the wallet-side state the gateway consults: owned
// accounts, configured networks and the active selection. The state is an
// explicit object handed to the gateway rather than a process-wide global.
package wallet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNetworkNotFound = errors.New("network not found")
	ErrObservedAccount = errors.New("observed account cannot be selected for signing")
	ErrNoActiveAccount = errors.New("no active account")
)

// Account is an owned or watched address.
type Account struct {
	Address string `json:"address" yaml:"address"`
	Alias   string `json:"alias" yaml:"alias"`
	// Observed accounts are watch-only and can never sign.
	Observed bool `json:"observed" yaml:"observed"`
}

// Network is a configured chain.
type Network struct {
	Name      string `json:"name" yaml:"name"`
	GenesisID string `json:"genesisId" yaml:"genesisId"`
	Type      string `json:"type" yaml:"type"`
}

// Context is the read/write view of the wallet the gateway needs.
type Context interface {
	ActiveAccount() (Account, bool)
	ActiveNetwork() Network
	Account(address string) (Account, bool)
	Network(genesisID string) (Network, bool)
	Accounts() []Account
	Networks() []Network
	SelectAccount(address string) error
	SelectNetwork(genesisID string) error
	RemoveAccount(address string) error
}

// State is the in-memory Context implementation. It is safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	accounts []Account
	networks []Network
	active   string
	network  string
}

var _ Context = (*State)(nil)

// NewState builds a wallet state. The first network is active unless
// SelectNetwork is called; no account is active until one is selected.
func NewState(networks []Network, accounts []Account) (*State, error) {
	if len(networks) == 0 {
		return nil, fmt.Errorf("wallet: at least one network is required")
	}
	s := &State{
		accounts: append([]Account(nil), accounts...),
		networks: append([]Network(nil), networks...),
		network:  networks[0].GenesisID,
	}
	for i := range s.accounts {
		s.accounts[i].Address = Checksum(s.accounts[i].Address)
	}
	return s, nil
}

func (s *State) ActiveAccount() (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return Account{}, false
	}
	return s.findAccountLocked(s.active)
}

func (s *State) ActiveNetwork() Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, _ := s.findNetworkLocked(s.network)
	return n
}

func (s *State) Account(address string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findAccountLocked(address)
}

func (s *State) Network(genesisID string) (Network, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findNetworkLocked(genesisID)
}

func (s *State) Accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Account(nil), s.accounts...)
}

func (s *State) Networks() []Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Network(nil), s.networks...)
}

// SelectAccount makes address the active account. Observed accounts may be
// selected; signing paths check Observed themselves.
func (s *State) SelectAccount(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.findAccountLocked(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	s.active = acct.Address
	return nil
}

func (s *State) SelectNetwork(genesisID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.findNetworkLocked(genesisID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNetworkNotFound, genesisID)
	}
	s.network = n.GenesisID
	return nil
}

// AddAccount appends or replaces an account.
func (s *State) AddAccount(acct Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct.Address = Checksum(acct.Address)
	for i := range s.accounts {
		if SameAddress(s.accounts[i].Address, acct.Address) {
			s.accounts[i] = acct
			return
		}
	}
	s.accounts = append(s.accounts, acct)
}

// RemoveAccount drops address; the active account is cleared when it is removed.
func (s *State) RemoveAccount(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if SameAddress(s.accounts[i].Address, address) {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			if SameAddress(s.active, address) {
				s.active = ""
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
}

func (s *State) findAccountLocked(address string) (Account, bool) {
	for _, a := range s.accounts {
		if SameAddress(a.Address, address) {
			return a, true
		}
	}
	return Account{}, false
}

func (s *State) findNetworkLocked(genesisID string) (Network, bool) {
	for _, n := range s.networks {
		if strings.EqualFold(n.GenesisID, genesisID) {
			return n, true
		}
	}
	return Network{}, false
}
