package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

const defaultStateDir = "./wal/spotsim"

// Store persists the simulated wallet per trading pair so restarts keep balances.
type Store struct {
	path string
}

// NewStore creates a wallet store for pair under dir.
func NewStore(dir string, pair domain.Pair) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create portfolio state dir")
	}

	name := fmt.Sprintf("portfolio_%s.json", strings.ToLower(pair.String()))
	return &Store{path: filepath.Join(dir, name)}, nil
}

// State is the persisted wallet.
type State struct {
	Pair   string            `json:"pair"`
	Wallet map[string]string `json:"wallet"`
}

// NewState encodes balances keyed by currency.
func NewState(pair domain.Pair, wallet map[string]decimal.Decimal) State {
	encoded := make(map[string]string, len(wallet))
	for currency, amount := range wallet {
		encoded[currency] = amount.String()
	}
	return State{Pair: pair.String(), Wallet: encoded}
}

// Balances decodes the wallet.
func (st *State) Balances() (map[string]decimal.Decimal, error) {
	wallet := make(map[string]decimal.Decimal, len(st.Wallet))
	for currency, raw := range st.Wallet {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s balance", currency)
		}
		wallet[currency] = amount
	}
	return wallet, nil
}

// Load reads the wallet from disk. A missing or empty file yields nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read portfolio state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode portfolio state")
	}
	return &state, nil
}

// Save writes the wallet atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode portfolio state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write portfolio state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist portfolio state")
	}
	return nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}
