// Package guard implements a single client's entry-guard list: selection,
// per-period liveness updates, expiration, and the guard subset usable for
// a particular circuit.
package guard

import (
	"math/rand"
	"time"

	"github.com/opd-ai/pathsim/pkg/config"
	simerrors "github.com/opd-ai/pathsim/pkg/errors"
	"github.com/opd-ai/pathsim/pkg/logger"
	"github.com/opd-ai/pathsim/pkg/metrics"
	"github.com/opd-ai/pathsim/pkg/relay"
	"github.com/opd-ai/pathsim/pkg/weight"
)

// Entry is a single guard's lifecycle state.
type Entry struct {
	Expires  time.Time
	BadSince *time.Time
}

type record struct {
	fingerprint string
	entry       Entry
}

// Manager holds one client's guard list, preserving insertion order so
// guard-selection traversal is deterministic across runs.
type Manager struct {
	logger *logger.Logger
	rng    *rand.Rand
	cfg    config.GuardConfig
	stats  *metrics.Stats

	order []record
	index map[string]int
}

// NewManager creates an empty guard manager seeded for a single client.
// stats may be nil, in which case guard events are not counted.
func NewManager(seed int64, cfg config.GuardConfig, stats *metrics.Stats, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Manager{
		logger: log.Component("guards"),
		rng:    rand.New(rand.NewSource(seed)),
		cfg:    cfg,
		stats:  stats,
		index:  make(map[string]int),
	}
}

// Len returns the number of guards currently tracked, live or bad.
func (m *Manager) Len() int {
	return len(m.order)
}

// Snapshot returns a copy of the tracked guards keyed by fingerprint. The
// returned map does not preserve insertion order.
func (m *Manager) Snapshot() map[string]Entry {
	out := make(map[string]Entry, len(m.order))
	for _, r := range m.order {
		out[r.fingerprint] = r.entry
	}
	return out
}

func (m *Manager) get(fprint string) (*record, bool) {
	idx, ok := m.index[fprint]
	if !ok {
		return nil, false
	}
	return &m.order[idx], true
}

func (m *Manager) remove(fprint string) {
	idx, ok := m.index[fprint]
	if !ok {
		return
	}
	m.order = append(m.order[:idx], m.order[idx+1:]...)
	delete(m.index, fprint)
	for i := idx; i < len(m.order); i++ {
		m.index[m.order[i].fingerprint] = i
	}
	m.incRemoved()
}

func (m *Manager) insert(fprint string, entry Entry) {
	m.index[fprint] = len(m.order)
	m.order = append(m.order, record{fingerprint: fprint, entry: entry})
	m.incAdded()
}

func (m *Manager) incAdded() {
	if m.stats != nil {
		m.stats.GuardsAdded.Inc()
	}
}

func (m *Manager) incRemoved() {
	if m.stats != nil {
		m.stats.GuardsRemoved.Inc()
	}
}

func (m *Manager) incMarkedBad() {
	if m.stats != nil {
		m.stats.GuardsMarkedBad.Inc()
	}
}

func (m *Manager) incBroughtUp() {
	if m.stats != nil {
		m.stats.GuardsBroughtUp.Inc()
	}
}

// Update applies a new consensus period's liveness information to every
// tracked guard: marking down guards no longer Running+Guard, bringing
// back up down guards that are listed with neither Running nor Guard,
// removing guards down too long, and expiring
// guards past their randomized lifetime. This is the per-period guard
// bookkeeping a Tor client performs whenever it ingests a consensus.
func (m *Manager) Update(cons *relay.Consensus) {
	for _, fprint := range m.fingerprintsInOrder() {
		rec, _ := m.get(fprint)
		status, inConsensus := cons.Statuses[fprint]

		if rec.entry.BadSince == nil {
			if !inConsensus || !status.HasFlag(relay.FlagRunning) || !status.HasFlag(relay.FlagGuard) {
				m.logger.Debug("putting down guard", "fingerprint", fprint)
				badSince := cons.ValidAfter
				rec.entry.BadSince = &badSince
				m.incMarkedBad()
			}
		} else {
			// A guard comes back up only when it is present in the consensus
			// with BOTH Running and Guard absent. This is the inverse of the
			// put-down condition above, not its negation, and diverges from
			// what a live Tor client does.
			if inConsensus && !status.HasFlag(relay.FlagRunning) && !status.HasFlag(relay.FlagGuard) {
				m.logger.Debug("bringing up guard", "fingerprint", fprint)
				rec.entry.BadSince = nil
				m.incBroughtUp()
			}
		}

		if rec.entry.BadSince != nil {
			if cons.FreshUntil.Sub(*rec.entry.BadSince) >= m.cfg.DownTime {
				m.logger.Debug("guard down too long, removing", "fingerprint", fprint)
				m.remove(fprint)
				continue
			}
		}
		if !rec.entry.Expires.After(cons.ValidAfter) {
			m.logger.Debug("expiring guard", "fingerprint", fprint)
			m.remove(fprint)
		}
	}
}

func (m *Manager) fingerprintsInOrder() []string {
	out := make([]string, len(m.order))
	for i, r := range m.order {
		out[i] = r.fingerprint
	}
	return out
}

// liveGuards returns guards with no BadSince and a present descriptor.
func (m *Manager) liveGuards(cons *relay.Consensus) []string {
	var live []string
	for _, r := range m.order {
		if r.entry.BadSince == nil {
			if _, ok := cons.Descriptors[r.fingerprint]; ok {
				live = append(live, r.fingerprint)
			}
		}
	}
	return live
}

// usableForCircuit reports whether a guard may be used in a circuit with
// the given constraints: live, fast/stable as required, and not sharing
// family or /16 with the exit.
func (m *Manager) usableForCircuit(cons *relay.Consensus, fprint string, fast, stable bool, exit string) (bool, error) {
	rec, ok := m.get(fprint)
	if !ok || rec.entry.BadSince != nil {
		return false, nil
	}
	status, inCons := cons.Statuses[fprint]
	_, hasDesc := cons.Descriptors[fprint]
	if !inCons || !hasDesc {
		return false, simerrors.New(simerrors.KindMissingGuard, "live guard missing from consensus or descriptors: "+fprint)
	}
	if fast && !status.HasFlag(relay.FlagFast) {
		return false, nil
	}
	if stable && !status.HasFlag(relay.FlagStable) {
		return false, nil
	}
	if fprint == exit {
		return false, nil
	}
	if relay.SameFamily(cons.Descriptors, exit, fprint) {
		return false, nil
	}
	same16, err := relay.SameSlash16(cons.Descriptors[exit].Address, cons.Descriptors[fprint].Address)
	if err != nil {
		return false, err
	}
	if same16 {
		return false, nil
	}
	return true, nil
}

// addNewGuard selects a fresh guard with no conflict against the current
// list and inserts it with a randomized expiration.
func (m *Manager) addNewGuard(cons *relay.Consensus, circTime time.Time) (string, error) {
	existing := m.fingerprintsInOrder()

	var candidates []string
	for _, fprint := range cons.Fingerprints() {
		status := cons.Statuses[fprint]
		if !status.HasFlag(relay.FlagRunning) || !status.HasFlag(relay.FlagValid) || !status.HasFlag(relay.FlagGuard) {
			continue
		}
		conflict := false
		for _, guard := range existing {
			if guard == fprint || relay.SameFamily(cons.Descriptors, guard, fprint) {
				conflict = true
				break
			}
			same16, err := relay.SameSlash16(cons.Descriptors[guard].Address, cons.Descriptors[fprint].Address)
			if err != nil {
				return "", err
			}
			if same16 {
				conflict = true
				break
			}
		}
		if !conflict {
			candidates = append(candidates, fprint)
		}
	}
	if len(candidates) == 0 {
		return "", simerrors.New(simerrors.KindGuardExhaustion, "no new guard candidates available")
	}

	weights, err := weight.PositionWeight(candidates, cons.Statuses, weight.PositionGuard, cons.BandwidthWeights, cons.BWWeightScale)
	if err != nil {
		return "", err
	}
	ranked, err := weight.WeightedFingerprints(candidates, weights)
	if err != nil {
		return "", err
	}
	chosen, err := weight.Sample(m.rng, ranked)
	if err != nil {
		return "", err
	}

	span := int64(m.cfg.ExpirationMax - m.cfg.ExpirationMin)
	var offset time.Duration
	if span > 0 {
		offset = time.Duration(m.rng.Int63n(span))
	}
	expiration := m.cfg.ExpirationMin + offset
	m.insert(chosen, Entry{Expires: circTime.Add(expiration)})
	m.logger.Debug("added guard", "fingerprint", chosen, "expires", circTime.Add(expiration))
	return chosen, nil
}

// GuardsForCircuit returns up to cfg.NumGuards usable guard fingerprints
// for a circuit with the given constraints, adding new guards to the list
// as needed to reach cfg.NumGuards live guards and cfg.MinNumGuards usable
// ones. The returned slice preserves guard-list insertion order.
func (m *Manager) GuardsForCircuit(cons *relay.Consensus, fast, stable bool, exit string, circTime time.Time) ([]string, error) {
	if len(m.liveGuards(cons)) < m.cfg.NumGuards {
		for len(m.liveGuards(cons)) < m.cfg.NumGuards {
			if _, err := m.addNewGuard(cons, circTime); err != nil {
				return nil, err
			}
		}
	}

	usable := func() ([]string, error) {
		var out []string
		for _, fprint := range m.fingerprintsInOrder() {
			ok, err := m.usableForCircuit(cons, fprint, fast, stable, exit)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, fprint)
			}
		}
		return out, nil
	}

	guardsForCirc, err := usable()
	if err != nil {
		return nil, err
	}
	for len(guardsForCirc) < m.cfg.MinNumGuards {
		newGuard, err := m.addNewGuard(cons, circTime)
		if err != nil {
			return nil, err
		}
		ok, err := m.usableForCircuit(cons, newGuard, fast, stable, exit)
		if err != nil {
			return nil, err
		}
		if ok {
			guardsForCirc = append(guardsForCirc, newGuard)
		}
	}

	if len(guardsForCirc) > m.cfg.NumGuards {
		guardsForCirc = guardsForCirc[:m.cfg.NumGuards]
	}
	if len(guardsForCirc) < m.cfg.MinNumGuards {
		m.logger.Warn("only partial guard set available for circuit", "count", len(guardsForCirc))
	}
	return guardsForCirc, nil
}
