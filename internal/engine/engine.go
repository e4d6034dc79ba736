// Package engine composes the margin ledger into the public operation set:
// account lifecycle, collateral deposit/withdraw/combine, leveraged position
// open/close, vault LP flows, and forced liquidation. Each operation validates
// every precondition before mutating anything, executes as one indivisible
// unit under the engine lock, and emits one event per state transition.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pismocore/internal/event"
	"pismocore/internal/ledger"
	"pismocore/internal/observability"
	"pismocore/internal/oracle"
	"pismocore/internal/program"
	"pismocore/internal/vault"
)

var (
	ErrUnknownAccount = errors.New("engine: unknown account")
	ErrUnknownMarker  = errors.New("engine: unknown collateral marker")
)

// EventSink receives every emitted event envelope. Implementations must not
// fail the operation: the engine treats emission as fire-and-forget.
type EventSink interface {
	Emit(env event.Envelope)
}

// MarginEngine is the accounting core for one trading program.
//
// The engine assumes one logical writer per operation; the internal mutex
// serializes operations the way the host transaction substrate would, so no
// operation ever observes another's intermediate state.
type MarginEngine struct {
	mu sync.Mutex

	log     zerolog.Logger
	metrics *observability.Metrics
	sink    EventSink

	prog    *program.Program
	adapter *oracle.Adapter
	settle  *SettlementEngine

	accounts  map[uuid.UUID]*ledger.Account
	counters  map[uuid.UUID]*ledger.AccountCounters // keyed by account id
	holdings  map[uuid.UUID]*ledger.Holding
	markers   map[uuid.UUID]*ledger.Marker
	positions map[uuid.UUID]*ledger.Position
	vaults    map[uint64]*vault.Vault // one vault per collateral token index

	// Creation-order indexes. Settlement allocation and valuation passes are
	// order-sensitive, so per-account enumeration must be deterministic.
	markerOrder   map[uuid.UUID][]uuid.UUID // account id -> marker ids
	positionOrder map[uuid.UUID][]uuid.UUID // account id -> position ids

	// Events staged by the operation in flight. Delivered in order on
	// success, discarded on failure: a failed operation is observable only
	// through its error.
	staged []event.Event
	seq    int64
}

// New creates an engine for a program. sink and metrics may be nil.
func New(prog *program.Program, adapter *oracle.Adapter, sink EventSink, metrics *observability.Metrics, log zerolog.Logger) *MarginEngine {
	return &MarginEngine{
		log:           log,
		metrics:       metrics,
		sink:          sink,
		prog:          prog,
		adapter:       adapter,
		settle:        NewSettlementEngine(prog, adapter),
		accounts:      make(map[uuid.UUID]*ledger.Account),
		counters:      make(map[uuid.UUID]*ledger.AccountCounters),
		holdings:      make(map[uuid.UUID]*ledger.Holding),
		markers:       make(map[uuid.UUID]*ledger.Marker),
		positions:     make(map[uuid.UUID]*ledger.Position),
		vaults:        make(map[uint64]*vault.Vault),
		markerOrder:   make(map[uuid.UUID][]uuid.UUID),
		positionOrder: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Program returns the engine's market configuration.
func (e *MarginEngine) Program() *program.Program {
	return e.prog
}

// stage queues an event for the operation in flight. Nothing reaches the
// sink, the metrics, or the sequence counter until the operation commits.
func (e *MarginEngine) stage(payload event.Event) {
	e.staged = append(e.staged, payload)
}

// finish completes an operation: staged events flush on success and are
// discarded on failure, then the operation metrics are recorded.
func (e *MarginEngine) finish(op string, start time.Time, nowMS int64, err error) {
	if err != nil {
		e.staged = e.staged[:0]
	} else {
		e.flushStaged(nowMS)
	}
	e.observe(op, start, err)
}

func (e *MarginEngine) flushStaged(nowMS int64) {
	for _, payload := range e.staged {
		if e.metrics != nil {
			e.metrics.EventsEmitted.WithLabelValues(payload.EventType().String()).Inc()
		}
		if e.sink == nil {
			continue
		}
		e.seq++
		e.sink.Emit(event.Envelope{
			Sequence:  e.seq,
			Type:      payload.EventType(),
			Timestamp: nowMS,
			Payload:   payload,
		})
	}
	e.staged = e.staged[:0]
}

func (e *MarginEngine) observe(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	e.metrics.EngineOps.WithLabelValues(op, result).Inc()
	e.metrics.EngineOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *MarginEngine) updateVaultGauges(v *vault.Vault) {
	if e.metrics == nil {
		return
	}
	idx := strconv.FormatUint(v.TokenIndex, 10)
	e.metrics.VaultReserve.WithLabelValues(idx).Set(float64(v.Reserve))
	e.metrics.VaultLPSupply.WithLabelValues(idx).Set(float64(v.LPSupply))
}

func (e *MarginEngine) account(accountID uuid.UUID) (*ledger.Account, *ledger.AccountCounters, error) {
	acct, ok := e.accounts[accountID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	counters, ok := e.counters[accountID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no counters for account %s", ledger.ErrAccountCountersMismatch, accountID)
	}
	if err := acct.AssertCounters(counters); err != nil {
		return nil, nil, err
	}
	if err := acct.AssertProgram(e.prog); err != nil {
		return nil, nil, err
	}
	return acct, counters, nil
}

func (e *MarginEngine) markerPair(markerID uuid.UUID) (*ledger.Holding, *ledger.Marker, error) {
	m, ok := e.markers[markerID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMarker, markerID)
	}
	h, ok := e.holdings[m.HoldingID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: marker %s has no holding", ledger.ErrCombineLinkMismatch, markerID)
	}
	return h, m, nil
}

// accountMarkers returns the account's markers in creation order.
func (e *MarginEngine) accountMarkers(accountID uuid.UUID) []*ledger.Marker {
	ids := e.markerOrder[accountID]
	out := make([]*ledger.Marker, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.markers[id])
	}
	return out
}

// accountPositions returns the account's open positions in creation order.
func (e *MarginEngine) accountPositions(accountID uuid.UUID) []*ledger.Position {
	ids := e.positionOrder[accountID]
	out := make([]*ledger.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.positions[id])
	}
	return out
}

// vaultsByTokenIndex returns all vaults in ascending token index order.
func (e *MarginEngine) vaultsByTokenIndex() []*vault.Vault {
	indexes := make([]uint64, 0, len(e.vaults))
	for idx := range e.vaults {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]*vault.Vault, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, e.vaults[idx])
	}
	return out
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// dropMarkerPair removes an emptied holding/marker pair from the engine.
func (e *MarginEngine) dropMarkerPair(h *ledger.Holding, m *ledger.Marker) {
	delete(e.holdings, h.ID)
	delete(e.markers, m.ID)
	e.markerOrder[m.AccountID] = removeID(e.markerOrder[m.AccountID], m.ID)
}

// OpenAccount creates an account with zeroed counters.
func (e *MarginEngine) OpenAccount(nowMS int64) (*ledger.Account, *ledger.AccountCounters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	acct, counters := ledger.OpenAccount(e.prog.ID)
	e.accounts[acct.ID] = acct
	e.counters[acct.ID] = counters

	e.stage(&event.NewAccount{AccountID: acct.ID, ProgramID: e.prog.ID})
	e.finish("open_account", start, nowMS, nil)
	e.log.Info().Str("account_id", acct.ID.String()).Msg("account opened")
	return acct, counters
}

// CreateVault registers the liquidity vault for a collateral token type.
// At most one vault exists per token index.
func (e *MarginEngine) CreateVault(tokenIndex uint64, nowMS int64) (*vault.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("create_vault", start, nowMS, err) }()

	if _, err = e.prog.CollateralToken(tokenIndex); err != nil {
		return nil, err
	}
	if _, ok := e.vaults[tokenIndex]; ok {
		err = fmt.Errorf("engine: vault already exists for token_index=%d", tokenIndex)
		return nil, err
	}

	v := vault.New(tokenIndex)
	e.vaults[tokenIndex] = v

	e.stage(&event.VaultCreated{VaultID: v.ID, TokenIndex: tokenIndex})
	e.updateVaultGauges(v)
	e.log.Info().Str("vault_id", v.ID.String()).Uint64("token_index", tokenIndex).Msg("vault created")
	return v, nil
}

// VaultDeposit mints LP shares for a liquidity deposit.
func (e *MarginEngine) VaultDeposit(tokenIndex uint64, amount uint64, nowMS int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("vault_deposit", start, nowMS, err) }()

	v, ok := e.vaults[tokenIndex]
	if !ok {
		err = fmt.Errorf("%w: token_index=%d", ErrMissingAssociatedVault, tokenIndex)
		return 0, err
	}

	minted, err := v.Deposit(amount)
	if err != nil {
		return 0, err
	}

	e.stage(&event.VaultDeposit{
		VaultID:  v.ID,
		Amount:   amount,
		LPMinted: minted,
		Reserve:  v.Reserve,
		LPSupply: v.LPSupply,
	})
	e.updateVaultGauges(v)
	return minted, nil
}

// VaultWithdraw burns LP shares and pays out the proportional reserve.
func (e *MarginEngine) VaultWithdraw(tokenIndex uint64, lpAmount uint64, nowMS int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("vault_withdraw", start, nowMS, err) }()

	v, ok := e.vaults[tokenIndex]
	if !ok {
		err = fmt.Errorf("%w: token_index=%d", ErrMissingAssociatedVault, tokenIndex)
		return 0, err
	}

	out, err := v.Withdraw(lpAmount)
	if err != nil {
		return 0, err
	}

	e.stage(&event.VaultWithdraw{
		VaultID:   v.ID,
		LPBurned:  lpAmount,
		AmountOut: out,
		Reserve:   v.Reserve,
		LPSupply:  v.LPSupply,
	})
	e.updateVaultGauges(v)
	return out, nil
}

// Deposit posts collateral, creating a linked holding/marker pair.
func (e *MarginEngine) Deposit(accountID uuid.UUID, tokenIndex uint64, amount uint64, nowMS int64) (*ledger.Holding, *ledger.Marker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("deposit", start, nowMS, err) }()

	acct, counters, err := e.account(accountID)
	if err != nil {
		return nil, nil, err
	}

	h, m, err := ledger.Deposit(acct, counters, e.prog, tokenIndex, amount)
	if err != nil {
		return nil, nil, err
	}

	e.holdings[h.ID] = h
	e.markers[m.ID] = m
	e.markerOrder[accountID] = append(e.markerOrder[accountID], m.ID)

	e.stage(&event.CollateralDeposit{
		CollateralID: h.ID,
		MarkerID:     m.ID,
		AccountID:    accountID,
		TokenIndex:   tokenIndex,
		Amount:       amount,
	})
	return h, m, nil
}

// Withdraw releases unreserved collateral back to the user. An emptied pair
// is destroyed and the account's collateral count decremented.
func (e *MarginEngine) Withdraw(accountID, markerID uuid.UUID, amount uint64, nowMS int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("withdraw", start, nowMS, err) }()

	_, counters, err := e.account(accountID)
	if err != nil {
		return 0, err
	}
	h, m, err := e.markerPair(markerID)
	if err != nil {
		return 0, err
	}
	if m.AccountID != accountID {
		err = fmt.Errorf("%w: marker=%s account=%s", ledger.ErrOwnerMismatch, markerID, accountID)
		return 0, err
	}

	closed, err := ledger.Withdraw(h, m, counters, amount)
	if err != nil {
		return 0, err
	}
	if closed {
		e.dropMarkerPair(h, m)
	}

	e.stage(&event.CollateralWithdraw{
		CollateralID: h.ID,
		MarkerID:     m.ID,
		AccountID:    accountID,
		TokenIndex:   m.TokenIndex,
		Amount:       amount,
		Closed:       closed,
	})
	return amount, nil
}

// CombineCollateral merges two same-token holdings into the survivor pair.
func (e *MarginEngine) CombineCollateral(accountID, survivorMarkerID, absorbedMarkerID uuid.UUID, nowMS int64) (*ledger.Holding, *ledger.Marker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	defer func() { e.finish("combine", start, nowMS, err) }()

	_, counters, err := e.account(accountID)
	if err != nil {
		return nil, nil, err
	}
	h1, m1, err := e.markerPair(survivorMarkerID)
	if err != nil {
		return nil, nil, err
	}
	h2, m2, err := e.markerPair(absorbedMarkerID)
	if err != nil {
		return nil, nil, err
	}
	if m1.AccountID != accountID || m2.AccountID != accountID {
		err = fmt.Errorf("%w: combine by non-owner", ledger.ErrOwnerMismatch)
		return nil, nil, err
	}

	merged, mergedMarker, err := ledger.Combine(h1, m1, h2, m2, counters)
	if err != nil {
		return nil, nil, err
	}
	e.dropMarkerPair(h2, m2)

	e.stage(&event.CollateralCombine{
		SurvivorID: merged.ID,
		AbsorbedID: h2.ID,
		AccountID:  accountID,
		TokenIndex: merged.TokenIndex,
		Amount:     merged.Amount,
	})
	return merged, mergedMarker, nil
}
